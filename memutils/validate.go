package memutils

// Validatable is anything able to check its own internal consistency. DebugValidate and the
// stress workload act on it; *heap.Heap implements it with a full chunk and free-list walk.
type Validatable interface {
	Validate() error
}
