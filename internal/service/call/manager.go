package call

import (
	"context"
	"fmt"
	"sync"
	"time"

	"rtchat/internal/model"
	"rtchat/internal/utils/log"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type (
	// Store is the durable call record collaborator. UpdateStatus must be
	// conditional: it commits only when the stored status still equals
	// expected, and reports whether this caller won the write.
	Store interface {
		Create(ctx context.Context, call *model.Call) error
		UpdateStatus(ctx context.Context, callID string, expected, next model.CallStatus) (bool, error)
		FindByID(ctx context.Context, callID string) (*model.Call, error)
		FindInitiated(ctx context.Context, initiatorID string, participantIDs []string) (*model.Call, error)
	}

	// Presence answers whether an identity has a live connection.
	Presence interface {
		Online(userID string) bool
	}

	// session is the in-memory participant set of one active call. It is
	// never persisted; it exists only while the call is ringing or live.
	session struct {
		call   *model.Call
		timer  *time.Timer
		joined map[string]struct{}
	}

	// Manager owns call lifecycle. Transitions out of `initiated` happen
	// exactly once, enforced by the store's conditional write, so two
	// racing answers/rejects resolve to a single terminal status and the
	// loser sees false. Conflicts are results, not errors.
	Manager struct {
		store    Store
		presence Presence

		ringTimeout time.Duration
		onMissed    func(call *model.Call)

		mu     sync.Mutex
		active map[string]*session
	}
)

func NewManager(store Store, presence Presence, ringTimeout time.Duration) *Manager {
	return &Manager{
		store:       store,
		presence:    presence,
		ringTimeout: ringTimeout,
		active:      make(map[string]*session),
	}
}

// SetOnMissed installs the hook run when a ringing call expires unanswered.
func (m *Manager) SetOnMissed(fn func(call *model.Call)) {
	m.onMissed = fn
}

// InitiateCall starts a 1:1 call. Retrying an initiate for the same pair
// while the first is still ringing returns the pending call instead of
// stacking a duplicate. The callee does not have to be online; the call
// stays `initiated` until answered, rejected, or rung out.
func (m *Manager) InitiateCall(ctx context.Context, fromID, toID string) (string, error) {
	return m.initiate(ctx, fromID, []string{toID}, false)
}

// InitiateGroupCall starts a group call with one call record and an
// implicit participant set; participants join independently.
func (m *Manager) InitiateGroupCall(ctx context.Context, fromID string, participantIDs []string) (string, error) {
	return m.initiate(ctx, fromID, participantIDs, true)
}

func (m *Manager) initiate(ctx context.Context, fromID string, participantIDs []string, isGroup bool) (string, error) {
	pending, err := m.store.FindInitiated(ctx, fromID, participantIDs)
	if err != nil {
		return "", fmt.Errorf("find pending call: %w", err)
	}
	if pending != nil {
		return pending.ID, nil
	}

	call := &model.Call{
		ID:             uuid.NewString(),
		InitiatorID:    fromID,
		ParticipantIDs: participantIDs,
		IsGroup:        isGroup,
		Status:         model.CallInitiated,
		CreatedAt:      time.Now().UTC(),
	}
	if err := m.store.Create(ctx, call); err != nil {
		return "", fmt.Errorf("create call: %w", err)
	}

	m.mu.Lock()
	m.active[call.ID] = &session{
		call:   call,
		joined: make(map[string]struct{}),
		timer:  time.AfterFunc(m.ringTimeout, func() { m.expire(call) }),
	}
	m.mu.Unlock()

	return call.ID, nil
}

// AnswerCall commits initiated -> accepted for a 1:1 call. Only a callee
// may answer, toID must be the other party, and both must be online; a
// lost race against a reject, an unknown call, or an offline party all
// come back as false.
func (m *Manager) AnswerCall(ctx context.Context, fromID, toID, callID string) (bool, error) {
	if !m.presence.Online(fromID) || !m.presence.Online(toID) {
		return false, nil
	}

	call, err := m.store.FindByID(ctx, callID)
	if err != nil {
		return false, fmt.Errorf("find call: %w", err)
	}
	if call == nil || call.IsGroup || !call.HasParticipant(fromID) {
		return false, nil
	}
	if fromID == toID || !call.Involves(toID) {
		return false, nil
	}

	won, err := m.store.UpdateStatus(ctx, callID, model.CallInitiated, model.CallAccepted)
	if err != nil {
		return false, fmt.Errorf("update call status: %w", err)
	}
	if !won {
		return false, nil
	}

	m.join(callID, fromID)
	m.join(callID, toID)
	m.stopTimer(callID)
	return true, nil
}

// AnswerGroupCall joins fromID to a group call. Only the initiator or a
// callee may join. The first join commits the call-level accepted status;
// later joins only grow the participant set.
func (m *Manager) AnswerGroupCall(ctx context.Context, fromID, callID string) (bool, error) {
	if !m.presence.Online(fromID) {
		return false, nil
	}

	call, err := m.store.FindByID(ctx, callID)
	if err != nil {
		return false, fmt.Errorf("find call: %w", err)
	}
	if call == nil || !call.IsGroup || !call.Involves(fromID) {
		return false, nil
	}
	switch call.Status {
	case model.CallInitiated, model.CallAccepted:
	default:
		return false, nil
	}

	won, err := m.store.UpdateStatus(ctx, callID, model.CallInitiated, model.CallAccepted)
	if err != nil {
		return false, fmt.Errorf("update call status: %w", err)
	}
	if !won {
		// Lost the transition to a concurrent write. Joining is only
		// valid when the call settled accepted through an earlier join,
		// not when a decline or ring timeout got there first.
		current, err := m.store.FindByID(ctx, callID)
		if err != nil {
			return false, fmt.Errorf("find call: %w", err)
		}
		if current == nil || current.Status != model.CallAccepted {
			return false, nil
		}
	}

	m.join(callID, fromID)
	m.stopTimer(callID)
	return true, nil
}

// RejectCall commits initiated -> rejected and tears down the ringing
// session. Only the initiator or a callee may reject. Rejecting a call
// that is already rejected is a no-op success; any other settled status
// is a conflict.
func (m *Manager) RejectCall(ctx context.Context, fromID, callID string) (bool, error) {
	call, err := m.store.FindByID(ctx, callID)
	if err != nil {
		return false, fmt.Errorf("find call: %w", err)
	}
	if call == nil || !call.Involves(fromID) {
		return false, nil
	}

	won, err := m.store.UpdateStatus(ctx, callID, model.CallInitiated, model.CallRejected)
	if err != nil {
		return false, fmt.Errorf("update call status: %w", err)
	}
	if won {
		m.drop(callID)
		return true, nil
	}
	return call.Status == model.CallRejected, nil
}

// Find loads the durable call record.
func (m *Manager) Find(ctx context.Context, callID string) (*model.Call, error) {
	return m.store.FindByID(ctx, callID)
}

// Leave removes a participant from an active call; the session is dropped
// once the last participant is gone.
func (m *Manager) Leave(callID, userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.active[callID]
	if !ok {
		return
	}
	delete(s.joined, userID)
	if len(s.joined) == 0 {
		s.stop()
		delete(m.active, callID)
	}
}

// HandleDisconnect removes userID from every active call, wired to the
// registry's unregister path.
func (m *Manager) HandleDisconnect(userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for callID, s := range m.active {
		if _, ok := s.joined[userID]; !ok {
			continue
		}
		delete(s.joined, userID)
		if len(s.joined) == 0 {
			s.stop()
			delete(m.active, callID)
		}
	}
}

// Participants returns the identities currently joined to a call.
func (m *Manager) Participants(callID string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.active[callID]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(s.joined))
	for id := range s.joined {
		out = append(out, id)
	}
	return out
}

// Live reports whether a call has at least one joined participant.
func (m *Manager) Live(callID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.active[callID]
	return ok && len(s.joined) > 0
}

func (m *Manager) join(callID, userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.active[callID]
	if !ok {
		s = &session{joined: make(map[string]struct{})}
		m.active[callID] = s
	}
	s.joined[userID] = struct{}{}
}

func (m *Manager) stopTimer(callID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.active[callID]; ok {
		s.stop()
	}
}

func (m *Manager) drop(callID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.active[callID]; ok {
		s.stop()
		delete(m.active, callID)
	}
}

// expire fires when a call rings out. The conditional write makes it a
// no-op against a call that was answered or rejected first.
func (m *Manager) expire(call *model.Call) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	won, err := m.store.UpdateStatus(ctx, call.ID, model.CallInitiated, model.CallMissed)
	if err != nil {
		log.Error("expire call failed", zap.String("callID", call.ID), zap.Error(err))
		return
	}
	if !won {
		return
	}

	m.drop(call.ID)
	if m.onMissed != nil {
		m.onMissed(call)
	}
}

func (s *session) stop() {
	if s.timer != nil {
		s.timer.Stop()
	}
}
