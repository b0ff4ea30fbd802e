package sim

// RegisterPair joins two single-value registers across a clock boundary.
// The transfer process lives in the destination domain, is sensitive on
// the source register's full state, and pushes on the destination
// register's empty state. A value written in cycle c of the source domain
// arrives at the earliest destination cycle starting at or after the end
// of cycle c.
type RegisterPair[T any] struct {
	Out *Register[T]
	In  *Register[T]

	proc *Process
}

// NewRegisterPair creates the pair and its transfer process.
func NewRegisterPair[T any](name string, src, dst *Clock) *RegisterPair[T] {
	rp := &RegisterPair[T]{
		Out: NewRegister[T](name+".out", src),
		In:  NewRegister[T](name+".in", dst),
	}
	rp.proc = dst.NewProcess(name+".transfer", rp.doTransfer)
	rp.proc.SetStorageTraces(rp.In.Name())
	rp.Out.Sensitive(rp.proc)
	return rp
}

// Process returns the transfer process, for arbitration wiring.
func (rp *RegisterPair[T]) Process() *Process { return rp.proc }

func (rp *RegisterPair[T]) doTransfer() Result {
	if rp.In.Empty() {
		rp.In.Write(rp.Out.Read())
		rp.Out.Clear()
		return Success
	}
	// Destination side has not consumed the previous value yet.
	return Failed
}
