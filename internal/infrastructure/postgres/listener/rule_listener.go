package listener

import (
	"context"
	"log"
	"strconv"
	"time"

	"github.com/lib/pq"
)

const reconnectInterval = 5 * time.Second

// Invalidator is the cache interface the listener drives. Matches
// matchrule.Cache.
type Invalidator interface {
	Invalidate(companyID int64)
	InvalidateAll()
}

// RuleListener invalidates the in-memory rule cache whenever a
// matching-rule write is announced over LISTEN/NOTIFY. Losing a
// notification is tolerable: rule visibility is eventually consistent and
// the cache reloads on the next miss.
type RuleListener struct {
	connStr    string
	channel    string
	cache      Invalidator
	shutdownCh chan struct{}
	done       chan struct{}
}

func NewRuleListener(connStr, channel string, cache Invalidator) *RuleListener {
	return &RuleListener{
		connStr:    connStr,
		channel:    channel,
		cache:      cache,
		shutdownCh: make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// Start begins listening for notifications in a background goroutine
func (l *RuleListener) Start(ctx context.Context) {
	go l.listen(ctx)
	log.Println("Matching-rule change listener started")
}

// Stop gracefully shuts down the listener
func (l *RuleListener) Stop() {
	close(l.shutdownCh)
	<-l.done
	log.Println("Matching-rule change listener stopped")
}

func (l *RuleListener) listen(ctx context.Context) {
	defer close(l.done)

	for {
		select {
		case <-l.shutdownCh:
			return
		case <-ctx.Done():
			return
		default:
			l.connectAndListen(ctx)
		}

		// Wait before reconnecting
		select {
		case <-l.shutdownCh:
			return
		case <-ctx.Done():
			return
		case <-time.After(reconnectInterval):
			log.Println("Reconnecting to PostgreSQL for notifications...")
		}
	}
}

func (l *RuleListener) connectAndListen(ctx context.Context) {
	listener := pq.NewListener(l.connStr, 10*time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			log.Printf("Listener error: %v", err)
		}
		switch ev {
		case pq.ListenerEventConnected:
			log.Println("Connected to PostgreSQL notification channel")
		case pq.ListenerEventDisconnected:
			log.Println("Disconnected from PostgreSQL notification channel")
		case pq.ListenerEventReconnected:
			log.Println("Reconnected to PostgreSQL notification channel")
			// Notifications sent while disconnected are gone; drop
			// every snapshot rather than serve stale rules.
			l.cache.InvalidateAll()
		case pq.ListenerEventConnectionAttemptFailed:
			log.Printf("Connection attempt failed: %v", err)
		}
	})

	defer listener.Close()

	if err := listener.Listen(l.channel); err != nil {
		log.Printf("Failed to listen on channel %s: %v", l.channel, err)
		return
	}

	log.Printf("Listening on channel: %s", l.channel)

	for {
		select {
		case <-l.shutdownCh:
			return
		case <-ctx.Done():
			return
		case notification := <-listener.Notify:
			if notification == nil {
				// Connection lost, break to reconnect
				return
			}
			l.handleNotification(notification)
		case <-time.After(90 * time.Second):
			// Ping to keep connection alive
			go func() {
				if err := listener.Ping(); err != nil {
					log.Printf("Listener ping failed: %v", err)
				}
			}()
		}
	}
}

// handleNotification parses the company id payload and invalidates that
// company's snapshot. An unparseable payload drops everything.
func (l *RuleListener) handleNotification(notification *pq.Notification) {
	companyID, err := strconv.ParseInt(notification.Extra, 10, 64)
	if err != nil {
		log.Printf("Unexpected rule-change payload %q, invalidating all: %v", notification.Extra, err)
		l.cache.InvalidateAll()
		return
	}
	l.cache.Invalidate(companyID)
}
