package context

import (
	"context"
	"crypto/rand"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/cuemby/embassyd/pkg/config"
	"github.com/cuemby/embassyd/pkg/continuation"
	"github.com/cuemby/embassyd/pkg/dns"
	"github.com/cuemby/embassyd/pkg/ingress"
	"github.com/cuemby/embassyd/pkg/log"
	"github.com/cuemby/embassyd/pkg/network"
	"github.com/cuemby/embassyd/pkg/reconciler"
	"github.com/cuemby/embassyd/pkg/runtime"
	"github.com/cuemby/embassyd/pkg/security"
	"github.com/cuemby/embassyd/pkg/store"
	"github.com/cuemby/embassyd/pkg/supervisor"
	"github.com/cuemby/embassyd/pkg/volume"
	"golang.org/x/net/proxy"
)

// AccountInfo is the appliance operator's account record. It is
// intentionally small: embassyd's install core only needs enough of it
// to gate RPC access, not a full user-profile model.
type AccountInfo struct {
	Hostname string
	Contact  string
}

// Notifier publishes a user-facing notification. An opaque collaborator
// per spec.md: out of scope for this core, stubbed with a no-op.
type Notifier interface {
	Notify(message string)
}

// NoopNotifier discards every notification.
type NoopNotifier struct{}

func (NoopNotifier) Notify(string) {}

// Options lets a caller override Init's default collaborators. DNS and
// Ingress default to a pkg/dns.Registrar-backed server and a
// pkg/ingress.Router-backed proxy respectively when left nil; tests
// that don't need real listeners can substitute fakes here instead.
type Options struct {
	SecretsKey []byte // 32 bytes; generated and persisted under DataDir if nil
	DNS        network.DNSRegistry
	Ingress    network.IngressRegistry
	Notifier   Notifier
}

// Context is the process-wide bundle of handles: the Package Database,
// the secret store, the account record, the container runtime, the
// network controller, the per-package supervisor, the continuation map
// and the shutdown signal.
type Context struct {
	Store         *store.Store
	Secrets       *security.SecretsManager
	DataDir       string
	TorSocksAddr  string
	Client        *http.Client
	Runtime       *runtime.ContainerdRuntime
	Network       *network.Controller
	Managers      *supervisor.Supervisor
	Notifier      Notifier
	Continuations *continuation.Map
	DNSServer     *dns.Server
	IngressProxy  *ingress.Proxy
	StartTime     time.Time
	Shutdown      chan struct{}

	accountMu sync.RWMutex
	account   AccountInfo

	mu       sync.Mutex
	closed   bool
	shutOnce sync.Once
}

// Init builds a Context from cfg, wiring the secret store, account,
// database, network controller and supervisor, then runs the
// reconciliation engine once before returning. Mirrors the teacher's
// and original's init order: secret store, account, database, network
// controller, manager map, reconciliation.
func Init(cfg config.Config, opts Options) (*Context, error) {
	key := opts.SecretsKey
	if key == nil {
		var err error
		key, err = loadOrCreateSecretsKey(cfg.DataDir)
		if err != nil {
			return nil, fmt.Errorf("loading secrets key: %w", err)
		}
	}
	secretsDir := filepath.Join(cfg.DataDir, "secrets")
	secrets, err := security.NewSecretsManager(key, secretsDir)
	if err != nil {
		return nil, fmt.Errorf("creating secrets manager: %w", err)
	}

	account := AccountInfo{Hostname: "embassy"}

	dbPath := filepath.Join(cfg.DataDir, "embassyd.db")
	st, err := store.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening package database: %w", err)
	}

	lanAddr, err := resolveInterfaceIP(cfg.EthernetInterface)
	if err != nil {
		log.WithComponent("context").Warn().Err(err).Str("interface", cfg.EthernetInterface).Msg("could not resolve LAN address, interface binding will no-op")
	}

	var dnsServer *dns.Server
	dnsRegistry := opts.DNS
	if dnsRegistry == nil {
		registrar := dns.NewRegistrar("embassy")
		dnsRegistry = registrar

		dnsAddr := dns.DefaultListenAddr
		if len(cfg.DNSBind) > 0 && cfg.DNSBind[0] != "" {
			dnsAddr = cfg.DNSBind[0]
		}
		dnsServer = dns.NewServer(registrar, &dns.Config{ListenAddr: dnsAddr})
		if err := dnsServer.Start(context.Background()); err != nil {
			st.Close()
			return nil, fmt.Errorf("starting DNS server: %w", err)
		}
	}
	var ingressProxy *ingress.Proxy
	ingressRegistry := opts.Ingress
	if ingressRegistry == nil {
		router := ingress.NewRouter("")
		ingressRegistry = router
		ingressProxy = ingress.NewProxy(router, "")
		go func() {
			if err := ingressProxy.Start(context.Background()); err != nil {
				log.WithComponent("context").Error().Err(err).Msg("ingress proxy stopped")
			}
		}()
	}
	netController := network.NewController(lanAddr, dnsRegistry, ingressRegistry)

	volumes, err := volume.NewLocalDriver(filepath.Join(cfg.DataDir, "volumes"))
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("creating volume driver: %w", err)
	}

	rt, err := runtime.NewContainerdRuntime("")
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("connecting to container runtime: %w", err)
	}

	managers := supervisor.New(st, rt, volumes, secrets)

	notifier := opts.Notifier
	if notifier == nil {
		notifier = NoopNotifier{}
	}

	torSocks := cfg.TorSocks
	client := onionProxyingClient(torSocks)

	rec := reconciler.New(st, volumes, netController, managers)
	if err := rec.Reconcile(context.Background()); err != nil {
		st.Close()
		return nil, fmt.Errorf("boot reconciliation: %w", err)
	}

	return &Context{
		Store:         st,
		Secrets:       secrets,
		DataDir:       cfg.DataDir,
		TorSocksAddr:  torSocks,
		Client:        client,
		Runtime:       rt,
		Network:       netController,
		Managers:      managers,
		Notifier:      notifier,
		Continuations: continuation.New(),
		DNSServer:     dnsServer,
		IngressProxy:  ingressProxy,
		StartTime:     time.Now(),
		Shutdown:      make(chan struct{}),
		account:       account,
	}, nil
}

// Account returns the current account record.
func (c *Context) Account() AccountInfo {
	c.accountMu.RLock()
	defer c.accountMu.RUnlock()
	c.panicIfClosed()
	return c.account
}

// SetAccount replaces the account record.
func (c *Context) SetAccount(info AccountInfo) {
	c.accountMu.Lock()
	defer c.accountMu.Unlock()
	c.panicIfClosed()
	c.account = info
}

// Close shuts the Context down: closes the secret store, the package
// database and the runtime client, and broadcasts on Shutdown. Safe to
// call more than once; only the first call does anything. Any method
// called on the Context afterward panics, matching the contract that
// using a Context past shutdown is a programmer error.
func (c *Context) Close() error {
	var err error
	c.shutOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()

		close(c.Shutdown)

		if c.DNSServer != nil {
			if closeErr := c.DNSServer.Stop(); closeErr != nil {
				err = closeErr
			}
		}
		if c.IngressProxy != nil {
			if closeErr := c.IngressProxy.Stop(); closeErr != nil && err == nil {
				err = closeErr
			}
		}
		if closeErr := c.Secrets.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
		if closeErr := c.Store.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
		if c.Runtime != nil {
			if closeErr := c.Runtime.Close(); closeErr != nil && err == nil {
				err = closeErr
			}
		}
	})
	return err
}

func (c *Context) panicIfClosed() {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		panic("context: use of Context after Close")
	}
}

func loadOrCreateSecretsKey(dataDir string) ([]byte, error) {
	keyPath := filepath.Join(dataDir, "secrets.key")
	if data, err := os.ReadFile(keyPath); err == nil && len(data) == 32 {
		return data, nil
	}

	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generating secrets key: %w", err)
	}
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	if err := os.WriteFile(keyPath, key, 0o600); err != nil {
		return nil, fmt.Errorf("persisting secrets key: %w", err)
	}
	return key, nil
}

func resolveInterfaceIP(name string) (net.IP, error) {
	if name == "" {
		return nil, fmt.Errorf("no interface configured")
	}
	iface, err := net.InterfaceByName(name)
	if err != nil {
		return nil, fmt.Errorf("looking up interface %s: %w", name, err)
	}
	addrs, err := iface.Addrs()
	if err != nil {
		return nil, fmt.Errorf("reading addresses for %s: %w", name, err)
	}
	for _, addr := range addrs {
		ipNet, ok := addr.(*net.IPNet)
		if !ok {
			continue
		}
		if ip4 := ipNet.IP.To4(); ip4 != nil {
			return ip4, nil
		}
	}
	return nil, fmt.Errorf("interface %s has no IPv4 address", name)
}

// onionProxyingClient returns an http.Client that routes requests to
// .onion hosts through the Tor SOCKS proxy at torSocks and dials every
// other host directly, mirroring the original's "proxy only onion
// addresses" transport.
func onionProxyingClient(torSocks string) *http.Client {
	var dialer proxy.Dialer = proxy.Direct
	if torSocks != "" {
		if d, err := proxy.SOCKS5("tcp", torSocks, nil, proxy.Direct); err == nil {
			dialer = d
		}
	}

	transport := &http.Transport{
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			host, _, err := net.SplitHostPort(addr)
			if err != nil {
				host = addr
			}
			if strings.HasSuffix(host, ".onion") {
				return dialer.Dial(network, addr)
			}
			return (&net.Dialer{}).DialContext(ctx, network, addr)
		},
	}
	return &http.Client{Transport: transport, Timeout: 30 * time.Second}
}
