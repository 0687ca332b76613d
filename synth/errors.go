package synth

import (
	"errors"
	"fmt"
)

var (
	// ErrIllegalArgument reports a malformed generator, factory base or call.
	ErrIllegalArgument = errors.New("synth: illegal argument")
	// ErrIllegalAccess reports use of a non-public member without access.
	ErrIllegalAccess = errors.New("synth: illegal access")
	// ErrDuplicateLink reports a second, different link for a type identity.
	ErrDuplicateLink = errors.New("synth: type identity already linked")
	// ErrStaleGenerator reports a generator that is not the one linked to its identity.
	ErrStaleGenerator = errors.New("synth: generator is not linked to its identity")
	// ErrNotLinked reports a load of a generator that was never linked.
	ErrNotLinked = errors.New("synth: generator not linked")
	// ErrForeignGenerator reports a generator created by another synthesizer.
	ErrForeignGenerator = errors.New("synth: generator belongs to another synthesizer")
	// ErrClassNotFound reports an unresolvable type identity.
	ErrClassNotFound = errors.New("synth: class not found")
	// ErrNoFactory reports a factory request for a generator without a factory base.
	ErrNoFactory = errors.New("synth: generator declares no factory base")
	// ErrCircularity reports a class that is its own ancestor.
	ErrCircularity = errors.New("synth: circular class hierarchy")
	// ErrFinalSuper reports an attempt to extend a final class.
	ErrFinalSuper = errors.New("synth: cannot extend final class")
	// ErrAbstract reports instantiation of an abstract class.
	ErrAbstract = errors.New("synth: cannot instantiate abstract class")
	// ErrMissingMethod reports a concrete class lacking an interface or abstract method.
	ErrMissingMethod = errors.New("synth: missing method implementation")
	// ErrDuplicateMember reports a field, method or constructor declared twice.
	ErrDuplicateMember = errors.New("synth: duplicate member")
	// ErrInvalidName reports a member name that is not an exported Go identifier.
	ErrInvalidName = errors.New("synth: invalid member name")
	// ErrNoSuchMethod reports a call to an undeclared method.
	ErrNoSuchMethod = errors.New("synth: no such method")
	// ErrNoSuchField reports access to an undeclared field.
	ErrNoSuchField = errors.New("synth: no such field")
	// ErrNoSuchConstructor reports an instantiation without a matching constructor.
	ErrNoSuchConstructor = errors.New("synth: no such constructor")

	// ErrPreboundConflict reports a name rebound to a different value.
	ErrPreboundConflict = errors.New("synth: prebound value conflict")
	// ErrUnboundValue reports retrieval of a name that was never bound.
	ErrUnboundValue = errors.New("synth: unbound prebound value")
	// ErrAlreadyBound reports binding prebound values to a second class.
	ErrAlreadyBound = errors.New("synth: prebound values already bound")
	// ErrNilPrebound reports a nil prebound value behind a null-guarded reference.
	ErrNilPrebound = errors.New("synth: prebound value is nil")

	// ErrUnknownSubstitution reports a template placeholder with no supplier.
	ErrUnknownSubstitution = errors.New("synth: unknown substitution")
)

// GenerationError wraps a failure to generate or define a class.
type GenerationError struct {
	Class string
	Err   error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("synth: generating %s: %v", e.Class, e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }
