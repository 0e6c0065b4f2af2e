package database

import (
	"fmt"

	"github.com/umbra-exchange/umbra/internal/swap"
)

// Role identifies which side of the swap protocol a record belongs to.
// A swap's role is fixed at creation and never changes.
type Role string

const (
	RoleInitiator Role = "initiator"
	RoleResponder Role = "responder"
)

// EndState enumerates the final outcomes of a swap.
type EndState string

const (
	// Initiator outcomes.
	EndBtcRedeemed EndState = "btc_redeemed"
	EndXmrRefunded EndState = "xmr_refunded"
	EndBtcPunished EndState = "btc_punished"
	// Responder outcomes.
	EndXmrRedeemed EndState = "xmr_redeemed"
	EndBtcRefunded EndState = "btc_refunded"
	// Either side.
	EndSafelyAborted EndState = "safely_aborted"
)

// InitiatorStage enumerates the protocol states of the initiating side.
type InitiatorStage string

const (
	InitiatorStarted       InitiatorStage = "started"
	InitiatorNegotiated    InitiatorStage = "negotiated"
	InitiatorBtcLocked     InitiatorStage = "btc_locked"
	InitiatorXmrLocked     InitiatorStage = "xmr_locked"
	InitiatorEncSigLearned InitiatorStage = "enc_sig_learned"
	InitiatorCancelling    InitiatorStage = "cancelling"
	InitiatorDone          InitiatorStage = "done"
)

// ResponderStage enumerates the protocol states of the responding side.
type ResponderStage string

const (
	ResponderStarted     ResponderStage = "started"
	ResponderNegotiated  ResponderStage = "negotiated"
	ResponderBtcLockSeen ResponderStage = "btc_lock_seen"
	ResponderXmrLocked   ResponderStage = "xmr_locked"
	ResponderEncSigSent  ResponderStage = "enc_sig_sent"
	ResponderCancelling  ResponderStage = "cancelling"
	ResponderDone        ResponderStage = "done"
)

// InitiatorState is a recovery snapshot of the initiating side.
type InitiatorState struct {
	Stage  InitiatorStage `cbor:"stage"`
	Params swap.Params    `cbor:"params"`
	// End is set only when Stage is InitiatorDone.
	End EndState `cbor:"end,omitempty"`
}

// IsDone reports whether the state is terminal.
func (s InitiatorState) IsDone() bool {
	return s.Stage == InitiatorDone
}

// ResponderState is a recovery snapshot of the responding side.
type ResponderState struct {
	Stage  ResponderStage `cbor:"stage"`
	Params swap.Params    `cbor:"params"`
	// End is set only when Stage is ResponderDone.
	End EndState `cbor:"end,omitempty"`
}

// IsDone reports whether the state is terminal.
func (s ResponderState) IsDone() bool {
	return s.Stage == ResponderDone
}

// SwapRecord is the role-tagged union stored per swap ID. Exactly one of the
// role states is set, matching Role. Construct records through
// NewInitiatorRecord / NewResponderRecord so the tag stays consistent.
type SwapRecord struct {
	Role      Role            `cbor:"role"`
	Initiator *InitiatorState `cbor:"initiator,omitempty"`
	Responder *ResponderState `cbor:"responder,omitempty"`
}

// NewInitiatorRecord wraps an initiator state in a tagged record.
func NewInitiatorRecord(state InitiatorState) SwapRecord {
	return SwapRecord{Role: RoleInitiator, Initiator: &state}
}

// NewResponderRecord wraps a responder state in a tagged record.
func NewResponderRecord(state ResponderState) SwapRecord {
	return SwapRecord{Role: RoleResponder, Responder: &state}
}

// AsInitiator returns the wrapped initiator state, or ErrNotInitiator if the
// record belongs to the responder role.
func (r SwapRecord) AsInitiator() (InitiatorState, error) {
	if r.Role != RoleInitiator || r.Initiator == nil {
		return InitiatorState{}, ErrNotInitiator
	}
	return *r.Initiator, nil
}

// AsResponder returns the wrapped responder state, or ErrNotResponder if the
// record belongs to the initiator role.
func (r SwapRecord) AsResponder() (ResponderState, error) {
	if r.Role != RoleResponder || r.Responder == nil {
		return ResponderState{}, ErrNotResponder
	}
	return *r.Responder, nil
}

// IsDone reports whether the record is in its terminal state.
func (r SwapRecord) IsDone() bool {
	switch r.Role {
	case RoleInitiator:
		return r.Initiator != nil && r.Initiator.IsDone()
	case RoleResponder:
		return r.Responder != nil && r.Responder.IsDone()
	}
	return false
}

func (r SwapRecord) String() string {
	switch r.Role {
	case RoleInitiator:
		if r.Initiator != nil {
			return fmt.Sprintf("initiator:%s", r.Initiator.Stage)
		}
	case RoleResponder:
		if r.Responder != nil {
			return fmt.Sprintf("responder:%s", r.Responder.Stage)
		}
	}
	return "invalid swap record"
}
