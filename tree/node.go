package tree

import (
	"fmt"
	"reflect"
	"strconv"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/schema"

	"github.com/shaurya/behave/event"
	"github.com/shaurya/behave/mapping"
)

// node is the stored tree state of one row.
type node struct {
	id     any
	parent any
	left   int64
	right  int64
	level  int64
	root   any
	path   string
	source string
}

func (n *node) width() int64 { return n.right - n.left + 1 }

// contains reports whether o lies in the subtree of n, n included.
func (n *node) contains(o *node) bool {
	return o.left >= n.left && o.right <= n.right && sameValue(n.root, o.root)
}

func pkField(sch *schema.Schema) *schema.Field {
	if sch.PrioritizedPrimaryField != nil {
		return sch.PrioritizedPrimaryField
	}
	return sch.PrimaryFields[0]
}

func col(name string) clause.Column {
	return clause.Column{Name: name}
}

// session opens an unscoped internal query on the model table, so soft
// deleted rows keep their place in the tree.
func session(ea *event.ORM) *gorm.DB {
	return ea.ObjectManager().Unscoped().Table(ea.Schema().Table)
}

// inTree restricts q to the tree holding root when the model has several.
func inTree(q *gorm.DB, cfg *mapping.TreeConfig, root any) *gorm.DB {
	if cfg.Root == nil {
		return q
	}
	if root == nil {
		return q.Where(clause.Eq{Column: col(cfg.Root.DBName), Value: nil})
	}
	return q.Where(clause.Eq{Column: col(cfg.Root.DBName), Value: root})
}

// parentIs matches rows whose parent is parent, roots when it is nil.
func parentIs(cfg *mapping.TreeConfig, parent any) clause.Expression {
	c := col(cfg.Parent.DBName)
	if parent != nil {
		return clause.Eq{Column: c, Value: parent}
	}
	if cfg.Parent.FieldType.Kind() == reflect.Ptr {
		return clause.Eq{Column: c, Value: nil}
	}
	return clause.Or(clause.Eq{Column: c, Value: nil}, clause.Eq{Column: c, Value: reflect.Zero(cfg.Parent.FieldType).Interface()})
}

func loadNode(ea *event.ORM, cfg *mapping.TreeConfig, id any) (*node, error) {
	pk := pkField(ea.Schema())
	row := map[string]any{}
	err := session(ea).Where(clause.Eq{Column: col(pk.DBName), Value: id}).Take(&row).Error
	if err != nil {
		return nil, err
	}
	return nodeFromRow(cfg, pk, row), nil
}

func nodeFromRow(cfg *mapping.TreeConfig, pk *schema.Field, row map[string]any) *node {
	n := &node{id: row[pk.DBName], parent: nonZero(row[cfg.Parent.DBName])}
	if cfg.Left != nil {
		n.left = toInt64(row[cfg.Left.DBName])
	}
	if cfg.Right != nil {
		n.right = toInt64(row[cfg.Right.DBName])
	}
	if cfg.Level != nil {
		n.level = toInt64(row[cfg.Level.DBName])
	}
	if cfg.Root != nil {
		n.root = nonZero(row[cfg.Root.DBName])
	}
	if cfg.Path != nil {
		n.path = toString(row[cfg.Path.DBName])
	}
	if cfg.PathSource != nil {
		n.source = toString(nonZero(row[cfg.PathSource.DBName]))
	}
	return n
}

// identity returns the primary key of obj, nil while unset.
func identity(ea *event.ORM, obj reflect.Value) any {
	v, zero := pkField(ea.Schema()).ValueOf(ea.Context(), obj)
	if zero {
		return nil
	}
	return event.Deref(v)
}

// parentOf returns the parent key obj is about to be written with.
func parentOf(ea *event.ORM, cfg *mapping.TreeConfig, obj reflect.Value) any {
	return nonZero(ea.FieldValue(obj, cfg.Parent))
}

func set(ea *event.ORM, obj reflect.Value, f *schema.Field, v any) error {
	if f == nil {
		return nil
	}
	if err := ea.SetFieldValue(obj, f, v); err != nil {
		return fmt.Errorf("tree: set %s: %w", f.Name, err)
	}
	return nil
}

// nonZero dereferences v and maps zero values to nil.
func nonZero(v any) any {
	v = event.Deref(v)
	if v == nil {
		return nil
	}
	if rv := reflect.ValueOf(v); rv.IsZero() {
		return nil
	}
	return v
}

func sameValue(a, b any) bool {
	a, b = nonZero(a), nonZero(b)
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return fmt.Sprint(a) == fmt.Sprint(b)
}

func toInt64(v any) int64 {
	switch t := event.Deref(v).(type) {
	case int64:
		return t
	case int:
		return int64(t)
	case int32:
		return int64(t)
	case int16:
		return int64(t)
	case int8:
		return int64(t)
	case uint:
		return int64(t)
	case uint64:
		return int64(t)
	case uint32:
		return int64(t)
	case uint16:
		return int64(t)
	case uint8:
		return int64(t)
	case float64:
		return int64(t)
	case float32:
		return int64(t)
	case []byte:
		n, _ := strconv.ParseInt(string(t), 10, 64)
		return n
	case string:
		n, _ := strconv.ParseInt(t, 10, 64)
		return n
	}
	return 0
}

func toString(v any) string {
	switch t := event.Deref(v).(type) {
	case nil:
		return ""
	case string:
		return t
	case []byte:
		return string(t)
	default:
		return fmt.Sprint(t)
	}
}
