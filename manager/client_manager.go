package manager

import (
	"sync"

	"github.com/pcloudy-tools/pcloudy-service/adb"
	"github.com/pcloudy-tools/pcloudy-service/auth"
	"github.com/pcloudy-tools/pcloudy-service/config"
	"github.com/pcloudy-tools/pcloudy-service/drive"
	"github.com/pcloudy-tools/pcloudy-service/gateway"
	"github.com/pcloudy-tools/pcloudy-service/job"
	"github.com/pcloudy-tools/pcloudy-service/platform"
	"github.com/pcloudy-tools/pcloudy-service/transfer"
)

// Client is the composed pCloudy client: one gateway, one token manager,
// and the operation components wired over them. Composition replaces the
// one-big-object style: each component is independently constructible and
// testable.
type Client struct {
	Config   *config.Config
	Gateway  gateway.Gateway
	Tokens   *auth.TokenManager
	Drive    *drive.Client
	Transfer *transfer.Orchestrator
	Resign   *job.ResignWorkflow
	Platform *platform.Detector
	ADB      *adb.Executor
}

func NewClient(cfg *config.Config) *Client {
	gw := gateway.New(cfg.RequestTimeout)
	tokens := auth.NewTokenManager(cfg.Credential(), cfg.BaseURL, gw,
		auth.WithRefreshThreshold(cfg.TokenRefreshThreshold),
		auth.WithSeedToken(cfg.AuthToken),
	)
	drv := drive.NewClient(gw, tokens, cfg.BaseURL)
	tr := transfer.NewOrchestrator(gw, tokens, cfg.BaseURL)
	det := platform.NewDetector(gw, tokens, cfg.BaseURL, tr)
	return &Client{
		Config:   cfg,
		Gateway:  gw,
		Tokens:   tokens,
		Drive:    drv,
		Transfer: tr,
		Resign:   job.NewResignWorkflow(gw, tokens, cfg.BaseURL, drv),
		Platform: det,
		ADB:      adb.NewExecutor(gw, tokens, cfg.BaseURL, det),
	}
}

// ClientManager hands out one Client per account.
type ClientManager struct {
	clients map[string]*Client
	mu      sync.Mutex
}

var (
	clientManagerInstance *ClientManager
	onceClientManager     sync.Once
)

func GetClientManager() *ClientManager {
	onceClientManager.Do(func() {
		clientManagerInstance = &ClientManager{
			clients: make(map[string]*Client),
		}
	})
	return clientManagerInstance
}

func (m *ClientManager) GetClient(username string) *Client {
	m.mu.Lock()
	defer m.mu.Unlock()
	if client, ok := m.clients[username]; ok {
		return client
	}
	return nil
}

func (m *ClientManager) NewClient(cfg *config.Config) *Client {
	m.mu.Lock()
	defer m.mu.Unlock()
	if client, ok := m.clients[cfg.Username]; ok {
		return client
	}
	client := NewClient(cfg)
	m.clients[cfg.Username] = client
	return client
}
