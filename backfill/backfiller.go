package backfill

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/rangekv/go-rangekv/history"
	"github.com/rangekv/go-rangekv/mailbox"
	"github.com/rangekv/go-rangekv/store"
)

// Backfiller is the backfill source: it accepts registrations from
// backfillees and spawns one Client per registered sink. Besides its three
// collaborators it keeps only its configuration, its registration mailbox and
// the set of live clients.
type Backfiller struct {
	logger    *zap.Logger
	cfg       Config
	mailboxes *mailbox.Manager
	hist      history.Store
	view      store.View

	registrationMB *mailbox.Mailbox

	mu      sync.Mutex
	clients map[string]*Client
	closed  bool
}

// New creates a backfiller serving the given store and exposes its
// registration endpoint.
func New(
	logger *zap.Logger,
	cfg Config,
	mailboxes *mailbox.Manager,
	hist history.Store,
	view store.View,
) (*Backfiller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("backfill config: %w", err)
	}
	b := &Backfiller{
		logger:    logger,
		cfg:       cfg,
		mailboxes: mailboxes,
		hist:      hist,
		view:      view,
		clients:   make(map[string]*Client),
	}
	b.registrationMB = mailboxes.Register(mailbox.Typed(logger, b.onRegister))
	return b, nil
}

// RegistrationAddress is where backfillees send their intro-1 message.
func (b *Backfiller) RegistrationAddress() mailbox.Address {
	return b.registrationMB.Address()
}

func (b *Backfiller) onRegister(ctx context.Context, intro Intro1) {
	if intro.IntroAddr.IsZero() {
		b.logger.Warn("registration without intro address dropped")
		return
	}
	oracle := history.NewOracle(history.Combiner{
		Primary:  b.hist,
		Fallback: history.NewMapStore(intro.InitialVersionHistory),
	})
	client, err := newClient(ctx, b.logger, b.cfg, b.mailboxes, oracle, b.view, intro, b.onClientFatal)
	if err != nil {
		b.logger.Error("registration rejected", zap.Error(err),
			zap.Stringer("intro", intro.IntroAddr))
		return
	}
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		client.Close()
		return
	}
	b.clients[intro.IntroAddr.ID] = client
	n := len(b.clients)
	b.mu.Unlock()
	registeredClients.Set(float64(n))
	b.logger.Info("backfillee registered",
		zap.Stringer("intro", intro.IntroAddr), zap.Stringer("region", intro.Region))
}

// onClientFatal detaches and tears down a client that observed a protocol
// violation. Other clients are unaffected.
func (b *Backfiller) onClientFatal(c *Client, err error) {
	b.mu.Lock()
	for id, other := range b.clients {
		if other == c {
			delete(b.clients, id)
			break
		}
	}
	n := len(b.clients)
	b.mu.Unlock()
	registeredClients.Set(float64(n))
	c.Close()
}

// Close tears down the registration endpoint and every client.
func (b *Backfiller) Close() {
	b.registrationMB.Close()
	b.mu.Lock()
	b.closed = true
	clients := make([]*Client, 0, len(b.clients))
	for _, c := range b.clients {
		clients = append(clients, c)
	}
	b.clients = make(map[string]*Client)
	b.mu.Unlock()
	for _, c := range clients {
		c.Close()
	}
	registeredClients.Set(0)
}
