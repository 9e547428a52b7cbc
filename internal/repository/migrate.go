package repository

import (
	"context"
	"fmt"
	"reflect"
	"strings"

	"entgo.io/ent"
	"entgo.io/ent/dialect/entsql"
	"entgo.io/ent/dialect/sql/schema"

	entschema "github.com/joseph-ayodele/docextract/db/ent/schema"
)

// Schemas are the ent schema definitions the tables are derived from.
var Schemas = []ent.Interface{
	entschema.Extractor{},
	entschema.Example{},
	entschema.ExtractionRun{},
}

// Tables converts Schemas into migration tables: one column per field, a
// foreign key per inverse edge with a field, and the declared indexes.
func Tables() ([]*schema.Table, error) {
	var (
		tables []*schema.Table
		byType = map[string]*schema.Table{}
		defs   = map[string]ent.Interface{}
	)
	for _, s := range Schemas {
		typeName := reflect.TypeOf(s).Name()
		t := schema.NewTable(tableName(s, typeName))
		for _, f := range s.Fields() {
			d := f.Descriptor()
			if d.Err != nil {
				return nil, fmt.Errorf("%s.%s: %w", typeName, d.Name, d.Err)
			}
			col := &schema.Column{
				Name:       d.Name,
				Type:       d.Info.Type,
				Size:       int64(d.Size),
				Nullable:   d.Optional,
				Unique:     d.Unique,
				SchemaType: d.SchemaType,
			}
			if d.Name == "id" {
				t.AddPrimary(col)
			} else {
				t.AddColumn(col)
			}
		}
		tables = append(tables, t)
		byType[typeName] = t
		defs[typeName] = s
	}

	for _, s := range Schemas {
		typeName := reflect.TypeOf(s).Name()
		t := byType[typeName]
		for _, e := range s.Edges() {
			d := e.Descriptor()
			if !d.Inverse || d.Field == "" {
				continue
			}
			ref, ok := byType[d.Type]
			if !ok {
				return nil, fmt.Errorf("%s.%s: unknown edge type %s", typeName, d.Name, d.Type)
			}
			col, ok := t.Column(d.Field)
			if !ok {
				return nil, fmt.Errorf("%s.%s: missing edge field %s", typeName, d.Name, d.Field)
			}
			refCol, _ := ref.Column("id")
			t.AddForeignKey(&schema.ForeignKey{
				Symbol:     fmt.Sprintf("%s_%s_%s", t.Name, ref.Name, d.Name),
				Columns:    []*schema.Column{col},
				RefTable:   ref,
				RefColumns: []*schema.Column{refCol},
				OnDelete:   onDelete(defs[d.Type], d.RefName, col.Nullable),
			})
		}
		for _, ix := range s.Indexes() {
			d := ix.Descriptor()
			t.AddIndex(t.Name+"_"+strings.Join(d.Fields, "_"), d.Unique, d.Fields)
		}
	}
	return tables, nil
}

func tableName(s ent.Interface, typeName string) string {
	for _, a := range s.Annotations() {
		switch a := a.(type) {
		case entsql.Annotation:
			if a.Table != "" {
				return a.Table
			}
		case *entsql.Annotation:
			if a != nil && a.Table != "" {
				return a.Table
			}
		}
	}
	return strings.ToLower(typeName)
}

// onDelete reads the entsql.OnDelete annotation on the owning edge named
// edgeName; without one, nullable references are cleared and others restrict.
func onDelete(owner ent.Interface, edgeName string, nullable bool) schema.ReferenceOption {
	for _, e := range owner.Edges() {
		d := e.Descriptor()
		if d.Name != edgeName || d.Inverse {
			continue
		}
		for _, a := range d.Annotations {
			switch a := a.(type) {
			case *entsql.Annotation:
				if a != nil && a.OnDelete != "" {
					return schema.ReferenceOption(a.OnDelete)
				}
			case entsql.Annotation:
				if a.OnDelete != "" {
					return schema.ReferenceOption(a.OnDelete)
				}
			}
		}
	}
	if nullable {
		return schema.SetNull
	}
	return schema.NoAction
}

// Migrate creates or updates the tables.
func (db *DB) Migrate(ctx context.Context) error {
	tables, err := Tables()
	if err != nil {
		return err
	}
	m, err := schema.NewMigrate(db.Driver)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	if err := m.Create(ctx, tables...); err != nil {
		db.logger.Error("schema migration failed", "error", err)
		return fmt.Errorf("migrate: %w", err)
	}
	db.logger.Info("schema migrated", "tables", len(tables))
	return nil
}
