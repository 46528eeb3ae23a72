package baodb

// ValidateEvent is a message in the progress stream of ReadonlyMap.Validate.
// It is one of ValidateStarting, ValidateEntry, ValidateProgress, or ValidateDone.
//
// ValidateStarting comes first.
// For each entry, its ValidateEntry precedes its own ValidateProgress and ValidateDone events,
// but events for different entries may interleave.
type ValidateEvent interface {
	validateEvent()
}

// ValidateStarting announces the number of entries about to be validated.
type ValidateStarting struct {
	Total uint64
}

// ValidateEntry announces that validation of one entry has begun.
// IDs count up from zero in validation order.
type ValidateEntry struct {
	ID   uint64
	Hash Hash
	Path string // empty unless the entry refers to a file
	Size uint64
}

// ValidateProgress reports how far validation of an entry has gotten.
// These events are advisory:
// they are dropped when the receiver is not keeping up.
type ValidateProgress struct {
	ID     uint64
	Offset uint64
}

// ValidateDone reports the outcome for one entry.
// Error is empty on success.
type ValidateDone struct {
	ID    uint64
	Error string
}

func (ValidateStarting) validateEvent() {}
func (ValidateEntry) validateEvent()    {}
func (ValidateProgress) validateEvent() {}
func (ValidateDone) validateEvent()     {}
