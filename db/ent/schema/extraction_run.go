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

	"github.com/joseph-ayodele/docextract/constants"
	"github.com/joseph-ayodele/docextract/db/ent/schema/utils"
)

type ExtractionRun struct{ ent.Schema }

func (ExtractionRun) Annotations() []schema.Annotation {
	return []schema.Annotation{
		entsql.Annotation{Table: "extraction_run"},
	}
}

func (ExtractionRun) Fields() []ent.Field {
	return []ent.Field{
		field.UUID("id", uuid.UUID{}).Default(uuid.New).Immutable(),
		// nil for ad-hoc runs
		field.UUID("extractor_id", uuid.UUID{}).Optional().Nillable(),
		field.String("status").NotEmpty().
			Validate(utils.EnumValidator(constants.RunStatuses...)),
		field.String("stage").Optional().Nillable(),
		field.Text("error_message").Optional().Nillable().
			SchemaType(map[string]string{dialect.Postgres: "text"}),
		field.Int("attempts").Default(0).NonNegative(),
		field.Text("records").Optional().Nillable().
			SchemaType(map[string]string{dialect.Postgres: "text"}),
		field.String("model_name").Optional().Nillable(),
		field.Time("started_at").Default(time.Now),
		field.Time("finished_at").Optional().Nillable(),
	}
}

func (ExtractionRun) Edges() []ent.Edge {
	return []ent.Edge{
		edge.From("extractor", Extractor.Type).
			Ref("runs").
			Field("extractor_id").
			Unique(),
	}
}

func (ExtractionRun) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("extractor_id", "started_at"),
		index.Fields("status"),
	}
}
