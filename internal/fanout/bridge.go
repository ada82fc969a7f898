package fanout

import (
	"encoding/json"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

// Change kinds carried over the bridge.
const (
	ChangeMessages = "messages"
	ChangeSession  = "session"
)

const changeSubject = "dm.changes"

// changeNote tells other instances that a session changed. Snapshots are not
// shipped over the wire; each instance reloads from the store and publishes
// locally, so every subscriber sees a consistent full snapshot.
type changeNote struct {
	SessionID int    `json:"session_id"`
	Kind      string `json:"kind"`
	Origin    string `json:"origin"`
}

// Bridge propagates change notifications between service instances.
type Bridge interface {
	Notify(sessionID int, kind string)
	Close()
}

// NewBridge connects to NATS, or returns a noop bridge when no URL is
// configured. onChange is invoked for notes that originated elsewhere.
func NewBridge(url string, onChange func(sessionID int, kind string)) Bridge {
	if url == "" {
		log.Printf("fanout bridge disabled, using noop: empty nats url")
		return noopBridge{}
	}

	nc, err := nats.Connect(url,
		nats.Name("dm-service"),
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Printf("[nats] disconnected: %v", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("[nats] reconnected to %s", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		log.Printf("fanout bridge disabled, using noop: %v", err)
		return noopBridge{}
	}

	b := &natsBridge{nc: nc, origin: uuid.NewString()}
	sub, err := nc.Subscribe(changeSubject, func(msg *nats.Msg) {
		var note changeNote
		if err := json.Unmarshal(msg.Data, &note); err != nil {
			log.Printf("[nats] bad change note: %v", err)
			return
		}
		if note.Origin == b.origin {
			return // our own publish, already delivered locally
		}
		onChange(note.SessionID, note.Kind)
	})
	if err != nil {
		log.Printf("fanout bridge disabled, using noop: %v", err)
		nc.Close()
		return noopBridge{}
	}
	b.sub = sub

	log.Printf("[nats] fanout bridge connected to %s", nc.ConnectedUrl())
	return b
}

type natsBridge struct {
	nc     *nats.Conn
	sub    *nats.Subscription
	origin string
}

func (b *natsBridge) Notify(sessionID int, kind string) {
	payload, err := json.Marshal(changeNote{SessionID: sessionID, Kind: kind, Origin: b.origin})
	if err != nil {
		return
	}
	if err := b.nc.Publish(changeSubject, payload); err != nil {
		log.Printf("[nats] publish change note: %v", err)
	}
}

func (b *natsBridge) Close() {
	if b.sub != nil {
		_ = b.sub.Unsubscribe()
	}
	b.nc.Close()
}

type noopBridge struct{}

func (noopBridge) Notify(int, string) {}
func (noopBridge) Close()             {}
