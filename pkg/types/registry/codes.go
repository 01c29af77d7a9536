package registry

const (
	Codespace string = "registry"

	CodeOk                 uint32 = 0
	CodeUnknownRequestType uint32 = iota + 2000
	CodeInvalidSignature
	CodeUnauthorized
	CodeNotAdmin
	CodePaused
	CodeInvalidRange
	CodeEmptyEventsRoot
	CodeBatchAlreadyCommitted
	CodeSequenceMismatch
	CodeStateRootMismatch
	CodeBatchNotFound
	CodeProofAlreadyAttached
	CodeProofMismatch
	CodeAlreadySeeded
	CodeInvalidQueryPath
	CodeTreeUninitialized
	CodeUnknownError
)

const (
	EventCommitmentCreated = "commitment-created"
	EventProofAttached     = "proof-attached"
	EventAuthorizationSet  = "authorization-set"
	EventStrictModeSet     = "strict-mode-set"
	EventPauseSet          = "pause-set"

	AttributeBatchId       = "batch_id"
	AttributeKey           = "tenant_store_key"
	AttributeEventsRoot    = "events_root"
	AttributeNewStateRoot  = "new_state_root"
	AttributeSequenceStart = "sequence_start"
	AttributeSequenceEnd   = "sequence_end"
	AttributeEventCount    = "event_count"
	AttributeProofHash     = "proof_hash"
	AttributePrincipal     = "principal"
	AttributeAllowed       = "allowed"
	AttributeEnabled       = "enabled"
)

// IsTerminalCode reports whether a response code represents a validation failure that no retry
// can fix. Duplicate batch ids are deliberately excluded: the anchor process treats them as
// convergence. Pause is excluded too, as it lifts when an operator unpauses.
func IsTerminalCode(codespace string, code uint32) bool {
	if codespace != Codespace {
		return false
	}

	switch code {
	case CodeUnauthorized,
		CodeNotAdmin,
		CodeInvalidRange,
		CodeEmptyEventsRoot,
		CodeSequenceMismatch,
		CodeStateRootMismatch,
		CodeBatchNotFound,
		CodeProofAlreadyAttached,
		CodeProofMismatch:
		return true
	default:
		return false
	}
}
