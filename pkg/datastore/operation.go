package datastore

import (
	"fmt"
	"reflect"

	"github.com/hashicorp/go-multierror"
	"github.com/i5heu/ouroboros-graph/pkg/types"
)

// Update operator names.
const (
	OpSet      = "$set"
	OpUnset    = "$unset"
	OpAddToSet = "$addToSet"
	OpPull     = "$pull"

	// modifiers nested under $addToSet / $pull
	ModEach = "$each"
	ModIn   = "$in"
)

// Update maps an operator to its field -> value pairs.
type Update map[string]map[string]any

func (u Update) IsEmpty() bool {
	for _, fields := range u {
		if len(fields) > 0 {
			return false
		}
	}
	return true
}

// Operation is one write inside a bulk write.
type Operation interface {
	kind() string
}

type InsertOne struct {
	Document Document
}

type UpdateOne struct {
	ID     types.ID
	Update Update
}

// DeleteMany removes every listed ID. Bulk builders keep a pointer to it and
// keep appending IDs until execution.
type DeleteMany struct {
	IDs []types.ID
}

func (*InsertOne) kind() string  { return "insertOne" }
func (*UpdateOne) kind() string  { return "updateOne" }
func (*DeleteMany) kind() string { return "deleteMany" }

func (d *DeleteMany) Add(id types.ID) {
	for _, existing := range d.IDs {
		if existing == id {
			return
		}
	}
	d.IDs = append(d.IDs, id)
}

// OperationName is the operation's display name.
func OperationName(op Operation) string {
	if op == nil {
		return "<nil>"
	}
	return op.kind()
}

// ApplyUpdate applies the update operators to doc in place. Operators apply in
// a fixed order: $set, $unset, $addToSet, $pull.
func ApplyUpdate(doc Document, u Update) error {
	for _, op := range []string{OpSet, OpUnset, OpAddToSet, OpPull} {
		fields := u[op]
		for path, raw := range fields {
			var err error
			switch op {
			case OpSet:
				var v any
				if v, err = Normalize(raw); err == nil {
					err = doc.SetPath(path, v)
				}
			case OpUnset:
				err = doc.UnsetPath(path)
			case OpAddToSet:
				err = addToSet(doc, path, raw)
			case OpPull:
				err = pull(doc, path, raw)
			}
			if err != nil {
				return fmt.Errorf("%s %s: %w", op, path, err)
			}
		}
	}
	for op := range u {
		switch op {
		case OpSet, OpUnset, OpAddToSet, OpPull:
		default:
			return fmt.Errorf("%w: %s", ErrUnknownOperation, op)
		}
	}
	return nil
}

// modifierValues unpacks {"$each": [...]} / {"$in": [...]} or a bare value.
func modifierValues(raw any, modifier string) ([]any, error) {
	if m, ok := raw.(map[string]any); ok {
		if inner, ok := m[modifier]; ok {
			n, err := Normalize(inner)
			if err != nil {
				return nil, err
			}
			list, ok := n.([]any)
			if !ok {
				return nil, fmt.Errorf("%s expects a list, got %T", modifier, inner)
			}
			return list, nil
		}
	}
	n, err := Normalize(raw)
	if err != nil {
		return nil, err
	}
	return []any{n}, nil
}

func currentList(doc Document, path string) ([]any, error) {
	cur, ok := doc.GetPath(path)
	if !ok || cur == nil {
		return []any{}, nil
	}
	list, ok := cur.([]any)
	if !ok {
		return nil, fmt.Errorf("field is %T, not an array", cur)
	}
	return list, nil
}

func containsValue(list []any, v any) bool {
	for _, existing := range list {
		if reflect.DeepEqual(existing, v) {
			return true
		}
	}
	return false
}

func addToSet(doc Document, path string, raw any) error {
	values, err := modifierValues(raw, ModEach)
	if err != nil {
		return err
	}
	list, err := currentList(doc, path)
	if err != nil {
		return err
	}
	for _, v := range values {
		if !containsValue(list, v) {
			list = append(list, v)
		}
	}
	return doc.SetPath(path, list)
}

func pull(doc Document, path string, raw any) error {
	values, err := modifierValues(raw, ModIn)
	if err != nil {
		return err
	}
	if _, ok := doc.GetPath(path); !ok {
		return nil
	}
	list, err := currentList(doc, path)
	if err != nil {
		return err
	}
	kept := make([]any, 0, len(list))
	for _, v := range list {
		if !containsValue(values, v) {
			kept = append(kept, v)
		}
	}
	return doc.SetPath(path, kept)
}

// RunOps drives fn over ops with bulk write ordering semantics.
func RunOps(ops []Operation, ordered bool, fn func(i int, op Operation) error) error {
	var result *multierror.Error
	for i, op := range ops {
		if err := fn(i, op); err != nil {
			err = fmt.Errorf("op %d (%s): %w", i, OperationName(op), err)
			if ordered {
				return err
			}
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}
