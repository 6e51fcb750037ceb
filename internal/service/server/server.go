package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"rtchat/internal/model"
	"rtchat/internal/service/broadcast"
	"rtchat/internal/service/call"
	"rtchat/internal/service/chatstore"
	"rtchat/internal/service/registry"
	"rtchat/internal/utils/log"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const eventTimeout = 10 * time.Second

type (
	// UserStore is the durable identity collaborator.
	UserStore interface {
		Create(ctx context.Context, user *model.User) error
		FindByName(ctx context.Context, name string) (*model.User, error)
		SetPresence(ctx context.Context, id string, online bool, lastOnline time.Time) error
	}

	HttpServer struct {
		addr      string
		heartbeat time.Duration

		auth       *Authenticator
		registry   *registry.Registry
		dispatcher *broadcast.Dispatcher
		calls      *call.Manager
		chats      *chatstore.Store
		userRepo   UserStore
	}
)

func NewHttpServer(
	addr string,
	heartbeat time.Duration,
	auth *Authenticator,
	reg *registry.Registry,
	dispatcher *broadcast.Dispatcher,
	calls *call.Manager,
	chats *chatstore.Store,
	users UserStore,
) *HttpServer {
	s := &HttpServer{
		addr:       addr,
		heartbeat:  heartbeat,
		auth:       auth,
		registry:   reg,
		dispatcher: dispatcher,
		calls:      calls,
		chats:      chats,
		userRepo:   users,
	}

	reg.SetOnUnregister(s.handleUnregister)
	calls.SetOnMissed(s.handleMissedCall)
	return s
}

func (s *HttpServer) Router() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/ws", s.HandleWS()).Methods(http.MethodGet)
	r.HandleFunc("/users", s.CreateUser()).Methods(http.MethodPost)
	r.HandleFunc("/users/{name}", s.GetUser()).Methods(http.MethodGet)
	r.HandleFunc("/chats", s.GetChats()).Methods(http.MethodGet)
	r.HandleFunc("/chats/{chatID}", s.GetChat()).Methods(http.MethodGet)
	r.HandleFunc("/attachments/{messageID}", s.GetAttachment()).Methods(http.MethodGet)

	return r
}

func (s *HttpServer) Run() error {
	return http.ListenAndServe(s.addr, s.Router())
}

// HandleWS authenticates the bearer token supplied as a query parameter and
// upgrades to the signaling socket. A bad token is rejected before the
// upgrade, so a failed attempt never partially registers.
func (s *HttpServer) HandleWS() http.HandlerFunc {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return true // Allow all origins
		},
	}

	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := s.auth.Verify(r.URL.Query().Get("token"))
		if err != nil {
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			http.Error(w, "Failed to upgrade", http.StatusInternalServerError)
			return
		}

		b, superseded := s.registry.Register(userID, conn)
		if superseded {
			log.Info("duplicate session displaced", zap.String("userID", userID))
		}

		ctx, cancel := context.WithTimeout(context.Background(), eventTimeout)
		if err := s.userRepo.SetPresence(ctx, userID, true, time.Now().UTC()); err != nil {
			log.Warn("presence update failed", zap.String("userID", userID), zap.Error(err))
		}
		cancel()

		s.dispatcher.Notify(model.EventUserConnected,
			model.PresencePayload{UserID: userID, Online: true},
			func(id string) bool { return id != userID })

		go s.readPump(userID, conn, b)
	}
}

// readPump drives one connection: refresh the read deadline on every pong,
// decode inbound frames, and dispatch them. Each connection gets its own
// goroutine, so one peer's work never blocks another's.
func (s *HttpServer) readPump(userID string, conn *websocket.Conn, b *registry.Binding) {
	deadline := 2 * s.heartbeat
	_ = conn.SetReadDeadline(time.Now().Add(deadline))
	conn.SetPongHandler(func(string) error {
		b.Touch()
		return conn.SetReadDeadline(time.Now().Add(deadline))
	})

	defer s.registry.Unregister(b, websocket.CloseNormalClosure)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			log.Debug("web socket closed", zap.String("userID", userID), zap.Error(err))
			return
		}

		ev, err := model.Decode(data)
		if err != nil {
			log.Warn("bad frame dropped", zap.String("userID", userID), zap.Error(err))
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), eventTimeout)
		s.dispatch(ctx, userID, ev)
		cancel()
	}
}

func (s *HttpServer) dispatch(ctx context.Context, from string, ev *model.Event) {
	switch ev.Type {
	case model.EventCallOffer:
		var p model.CallOfferPayload
		if json.Unmarshal(ev.Payload, &p) == nil {
			s.handleCallOffer(ctx, from, p)
		}
	case model.EventCallAccepted:
		var p model.CallAnswerPayload
		if json.Unmarshal(ev.Payload, &p) == nil {
			s.handleCallAccepted(ctx, from, p)
		}
	case model.EventCallRejected:
		var p model.CallAnswerPayload
		if json.Unmarshal(ev.Payload, &p) == nil {
			s.handleCallRejected(ctx, from, p)
		}
	case model.EventGroupCallOffer:
		var p model.CallOfferPayload
		if json.Unmarshal(ev.Payload, &p) == nil {
			s.handleGroupCallOffer(ctx, from, p)
		}
	case model.EventGroupCallAccepted:
		var p model.CallAnswerPayload
		if json.Unmarshal(ev.Payload, &p) == nil {
			s.handleGroupCallAccepted(ctx, from, p)
		}
	case model.EventGroupCallRejected:
		var p model.CallAnswerPayload
		if json.Unmarshal(ev.Payload, &p) == nil {
			s.handleGroupCallRejected(ctx, from, p)
		}
	case model.EventNewMessage:
		var p model.MessagePayload
		if json.Unmarshal(ev.Payload, &p) == nil {
			s.handleNewMessage(ctx, from, p)
		}
	case model.EventEditMessage:
		var p model.MessagePayload
		if json.Unmarshal(ev.Payload, &p) == nil {
			s.handleEditMessage(ctx, from, p)
		}
	default:
		log.Debug("unhandled event", zap.String("type", ev.Type))
	}
}

func (s *HttpServer) handleCallOffer(ctx context.Context, from string, p model.CallOfferPayload) {
	if p.ToID == "" || p.ToID == from {
		log.Warn("call offer without a callee dropped", zap.String("from", from))
		return
	}

	callID, err := s.calls.InitiateCall(ctx, from, p.ToID)
	if err != nil {
		log.Error("initiate call failed", zap.String("from", from), zap.Error(err))
		return
	}

	// Ack the initiator with the call id; ring the callee if reachable.
	s.dispatcher.NotifyUser(from, model.EventCallOffer, model.CallOfferPayload{
		CallID: callID, FromID: from, ToID: p.ToID,
	})
	s.dispatcher.NotifyUser(p.ToID, model.EventOffer, model.CallOfferPayload{
		CallID: callID, FromID: from, SDP: p.SDP,
	})
}

func (s *HttpServer) handleCallAccepted(ctx context.Context, from string, p model.CallAnswerPayload) {
	ok, err := s.calls.AnswerCall(ctx, from, p.ToID, p.CallID)
	if err != nil {
		log.Error("answer call failed", zap.String("callID", p.CallID), zap.Error(err))
		return
	}
	if !ok {
		// Lost the race or a party went offline; tell the answerer only.
		s.dispatcher.NotifyUser(from, model.EventCallRejected, model.CallAnswerPayload{CallID: p.CallID})
		return
	}

	s.dispatcher.Notify(model.EventCallAccepted,
		model.CallAnswerPayload{CallID: p.CallID, FromID: from, SDP: p.SDP},
		broadcast.ToUsers(from, p.ToID))
}

func (s *HttpServer) handleCallRejected(ctx context.Context, from string, p model.CallAnswerPayload) {
	ok, err := s.calls.RejectCall(ctx, from, p.CallID)
	if err != nil {
		log.Error("reject call failed", zap.String("callID", p.CallID), zap.Error(err))
		return
	}
	if !ok {
		return
	}

	callRecord, err := s.calls.Find(ctx, p.CallID)
	if err != nil || callRecord == nil {
		return
	}

	s.dispatcher.Notify(model.EventCallRejected,
		model.CallAnswerPayload{CallID: p.CallID, FromID: from},
		func(id string) bool { return id != from && callRecord.Involves(id) })
}

func (s *HttpServer) handleGroupCallOffer(ctx context.Context, from string, p model.CallOfferPayload) {
	participants := make([]string, 0, len(p.ParticipantIDs))
	for _, id := range p.ParticipantIDs {
		if id != "" && id != from {
			participants = append(participants, id)
		}
	}
	if len(participants) == 0 {
		log.Warn("group call offer without callees dropped", zap.String("from", from))
		return
	}

	callID, err := s.calls.InitiateGroupCall(ctx, from, participants)
	if err != nil {
		log.Error("initiate group call failed", zap.String("from", from), zap.Error(err))
		return
	}

	s.dispatcher.NotifyUser(from, model.EventGroupCallOffer, model.CallOfferPayload{
		CallID: callID, FromID: from, ParticipantIDs: participants, IsGroup: true,
	})
	for _, id := range participants {
		s.dispatcher.NotifyUser(id, model.EventGroupCallOffer, model.CallOfferPayload{
			CallID: callID, FromID: from, ParticipantIDs: participants, IsGroup: true, SDP: p.SDP,
		})
	}
}

func (s *HttpServer) handleGroupCallAccepted(ctx context.Context, from string, p model.CallAnswerPayload) {
	ok, err := s.calls.AnswerGroupCall(ctx, from, p.CallID)
	if err != nil {
		log.Error("answer group call failed", zap.String("callID", p.CallID), zap.Error(err))
		return
	}
	if !ok {
		s.dispatcher.NotifyUser(from, model.EventGroupCallRejected, model.CallAnswerPayload{CallID: p.CallID})
		return
	}

	callRecord, err := s.calls.Find(ctx, p.CallID)
	if err != nil || callRecord == nil {
		return
	}

	s.dispatcher.Notify(model.EventGroupCallAccepted,
		model.CallAnswerPayload{CallID: p.CallID, FromID: from, SDP: p.SDP},
		func(id string) bool { return id != from && callRecord.Involves(id) })
}

func (s *HttpServer) handleGroupCallRejected(ctx context.Context, from string, p model.CallAnswerPayload) {
	// Settles the call only if nobody joined yet; either way the
	// initiator learns this participant declined.
	if _, err := s.calls.RejectCall(ctx, from, p.CallID); err != nil {
		log.Error("reject group call failed", zap.String("callID", p.CallID), zap.Error(err))
		return
	}

	callRecord, err := s.calls.Find(ctx, p.CallID)
	if err != nil || callRecord == nil {
		return
	}
	s.dispatcher.NotifyUser(callRecord.InitiatorID, model.EventGroupCallRejected,
		model.CallAnswerPayload{CallID: p.CallID, FromID: from})
}

func (s *HttpServer) handleNewMessage(ctx context.Context, from string, p model.MessagePayload) {
	view, err := s.chats.SaveMessage(ctx, p.ChatID, from, p.Body)
	if err != nil {
		log.Error("save message failed", zap.String("chatID", p.ChatID), zap.Error(err))
		return
	}
	if view == nil {
		log.Warn("message from non-member dropped",
			zap.String("chatID", p.ChatID), zap.String("userID", from))
		return
	}

	s.notifyChatMembers(ctx, model.EventNewMessage, view)
}

func (s *HttpServer) handleEditMessage(ctx context.Context, from string, p model.MessagePayload) {
	view, err := s.chats.EditMessage(ctx, p.MessageID, from, p.Body)
	if err != nil {
		log.Error("edit message failed", zap.String("messageID", p.MessageID), zap.Error(err))
		return
	}
	if view == nil {
		return
	}

	s.notifyChatMembers(ctx, model.EventEditMessage, view)
}

func (s *HttpServer) notifyChatMembers(ctx context.Context, eventType string, view *model.MessageView) {
	members, err := s.chats.MemberIDs(ctx, view.ChatID)
	if err != nil {
		log.Error("load members failed", zap.String("chatID", view.ChatID), zap.Error(err))
		return
	}

	s.dispatcher.Notify(eventType, model.MessagePayload{
		MessageID: view.ID,
		ChatID:    view.ChatID,
		SenderID:  view.SenderID,
		Body:      view.Body,
	}, broadcast.ToUsers(members...))
}

// handleUnregister runs whenever an identity's authoritative connection
// goes away: durable presence, active calls, and peers all learn about it.
// Failures are logged and never block the unregistration itself.
func (s *HttpServer) handleUnregister(userID string) {
	// A fast reconnect can register a new connection before this side
	// effect runs; the identity is online again and must not be marked
	// away under the fresh session.
	if s.registry.Online(userID) {
		log.Debug("unregister overtaken by reconnect", zap.String("userID", userID))
		return
	}

	lastOnline := time.Now().UTC()

	ctx, cancel := context.WithTimeout(context.Background(), eventTimeout)
	defer cancel()
	if err := s.userRepo.SetPresence(ctx, userID, false, lastOnline); err != nil {
		log.Warn("presence update failed", zap.String("userID", userID), zap.Error(err))
	}

	s.calls.HandleDisconnect(userID)

	s.dispatcher.Notify(model.EventUserDisconnected, model.PresencePayload{
		UserID:     userID,
		Online:     false,
		LastOnline: lastOnline.Unix(),
	}, nil)
}

func (s *HttpServer) handleMissedCall(c *model.Call) {
	s.dispatcher.Notify(model.EventCallMissed,
		model.CallAnswerPayload{CallID: c.ID, FromID: c.InitiatorID},
		func(id string) bool { return c.Involves(id) })
}
