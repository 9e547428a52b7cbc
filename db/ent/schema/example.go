package schema

import (
	"time"

	"entgo.io/ent"
	"entgo.io/ent/dialect"
	"entgo.io/ent/dialect/entsql"
	"entgo.io/ent/schema"
	"entgo.io/ent/schema/edge"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"
	"github.com/google/uuid"

	"github.com/joseph-ayodele/docextract/db/ent/schema/utils"
)

// Example is a few-shot input/output pair. Rows are never updated.
type Example struct{ ent.Schema }

func (Example) Annotations() []schema.Annotation {
	return []schema.Annotation{
		entsql.Annotation{Table: "example"},
	}
}

func (Example) Fields() []ent.Field {
	return []ent.Field{
		field.UUID("id", uuid.UUID{}).Default(uuid.New).Immutable(),
		field.UUID("extractor_id", uuid.UUID{}).Immutable(),
		field.Text("content").NotEmpty().Immutable().
			SchemaType(map[string]string{dialect.Postgres: "text"}),
		// JSON array of records
		field.Text("output").Immutable().
			Validate(utils.JSONArray).
			SchemaType(map[string]string{dialect.Postgres: "text"}),
		field.Time("created_at").Default(time.Now).Immutable(),
	}
}

func (Example) Edges() []ent.Edge {
	return []ent.Edge{
		edge.From("extractor", Extractor.Type).
			Ref("examples").
			Field("extractor_id").
			Unique().
			Required().
			Immutable(),
	}
}

func (Example) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("extractor_id", "created_at"),
	}
}
