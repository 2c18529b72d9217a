package cache

import (
	"fmt"

	jsoniter "github.com/json-iterator/go"
)

// canonical encodes arguments deterministically: map keys are sorted and
// struct fields keep their declaration order.
var canonical = jsoniter.Config{
	SortMapKeys: true,
	EscapeHTML:  false,
}.Froze()

// Key derives a cache key from an operation name and its arguments, as
// "operation:<json>". Arguments that are semantically equal encode to the same
// key as long as empty optional fields are tagged omitempty. Nil arguments
// yield the bare operation name.
func Key(operation string, args any) (string, error) {
	if args == nil {
		return operation, nil
	}

	encoded, err := canonical.MarshalToString(args)
	if err != nil {
		return "", fmt.Errorf("encoding cache key for %s: %w", operation, err)
	}

	return operation + ":" + encoded, nil
}
