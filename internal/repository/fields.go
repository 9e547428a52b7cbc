package repository

import (
	"fmt"

	"entgo.io/ent"

	"github.com/joseph-ayodele/docextract/internal/common"
)

// checkString runs the validators declared on field name of s against v.
func checkString(s ent.Interface, name, v string) error {
	for _, f := range s.Fields() {
		d := f.Descriptor()
		if d.Name != name {
			continue
		}
		for _, fn := range d.Validators {
			check, ok := fn.(func(string) error)
			if !ok {
				continue
			}
			if err := check(v); err != nil {
				return fmt.Errorf("%w: %s: %v", common.ErrInvalidInput, name, err)
			}
		}
		return nil
	}
	return fmt.Errorf("%w: unknown field %s", common.ErrInternal, name)
}
