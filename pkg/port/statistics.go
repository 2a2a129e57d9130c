package port

import "sync/atomic"

// Statistics tracks transaction-level statistics
type Statistics struct {
	numReads            uint64
	numWrites           uint64
	numTimeouts         uint64
	numValidationErrors uint64
	numSizeErrors       uint64
	numLabelMismatches  uint64
	numBusResets        uint64
	numFlushed          uint64
	numCallbackAborts   uint64
}

// NewStatistics creates a new statistics tracker
func NewStatistics() *Statistics {
	return &Statistics{}
}

// Read increments read transactions
func (s *Statistics) Read() {
	atomic.AddUint64(&s.numReads, 1)
}

// Write increments write transactions
func (s *Statistics) Write() {
	atomic.AddUint64(&s.numWrites, 1)
}

// Timeout increments receive timeouts
func (s *Statistics) Timeout() {
	atomic.AddUint64(&s.numTimeouts, 1)
}

// ValidationError increments rejected responses
func (s *Statistics) ValidationError() {
	atomic.AddUint64(&s.numValidationErrors, 1)
}

// SizeError increments short sends and wrongly sized responses
func (s *Statistics) SizeError() {
	atomic.AddUint64(&s.numSizeErrors, 1)
}

// LabelMismatch increments responses carrying an unexpected transaction label
func (s *Statistics) LabelMismatch() {
	atomic.AddUint64(&s.numLabelMismatches, 1)
}

// BusReset increments observed bus generation changes
func (s *Statistics) BusReset() {
	atomic.AddUint64(&s.numBusResets, 1)
}

// Flushed adds stale datagrams dropped before a request
func (s *Statistics) Flushed(n int) {
	atomic.AddUint64(&s.numFlushed, uint64(n))
}

// CallbackAbort increments reads aborted by the read callback
func (s *Statistics) CallbackAbort() {
	atomic.AddUint64(&s.numCallbackAborts, 1)
}

// GetReads returns read transactions
func (s *Statistics) GetReads() uint64 {
	return atomic.LoadUint64(&s.numReads)
}

// GetWrites returns write transactions
func (s *Statistics) GetWrites() uint64 {
	return atomic.LoadUint64(&s.numWrites)
}

// GetTimeouts returns receive timeouts
func (s *Statistics) GetTimeouts() uint64 {
	return atomic.LoadUint64(&s.numTimeouts)
}

// GetValidationErrors returns rejected responses
func (s *Statistics) GetValidationErrors() uint64 {
	return atomic.LoadUint64(&s.numValidationErrors)
}

// GetSizeErrors returns size errors
func (s *Statistics) GetSizeErrors() uint64 {
	return atomic.LoadUint64(&s.numSizeErrors)
}

// GetLabelMismatches returns transaction label mismatches
func (s *Statistics) GetLabelMismatches() uint64 {
	return atomic.LoadUint64(&s.numLabelMismatches)
}

// GetBusResets returns observed bus resets
func (s *Statistics) GetBusResets() uint64 {
	return atomic.LoadUint64(&s.numBusResets)
}

// GetFlushed returns stale datagrams dropped
func (s *Statistics) GetFlushed() uint64 {
	return atomic.LoadUint64(&s.numFlushed)
}

// GetCallbackAborts returns reads aborted by the read callback
func (s *Statistics) GetCallbackAborts() uint64 {
	return atomic.LoadUint64(&s.numCallbackAborts)
}

// Reset resets all statistics
func (s *Statistics) Reset() {
	atomic.StoreUint64(&s.numReads, 0)
	atomic.StoreUint64(&s.numWrites, 0)
	atomic.StoreUint64(&s.numTimeouts, 0)
	atomic.StoreUint64(&s.numValidationErrors, 0)
	atomic.StoreUint64(&s.numSizeErrors, 0)
	atomic.StoreUint64(&s.numLabelMismatches, 0)
	atomic.StoreUint64(&s.numBusResets, 0)
	atomic.StoreUint64(&s.numFlushed, 0)
	atomic.StoreUint64(&s.numCallbackAborts, 0)
}
