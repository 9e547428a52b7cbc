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

type Extractor struct{ ent.Schema }

func (Extractor) Annotations() []schema.Annotation {
	return []schema.Annotation{
		entsql.Annotation{Table: "extractor"},
	}
}

func (Extractor) Fields() []ent.Field {
	return []ent.Field{
		field.UUID("id", uuid.UUID{}).Default(uuid.New).Immutable(),
		field.String("name").NotEmpty().
			Validate(utils.NonBlank),
		field.String("description").Default("").
			Validate(utils.MaxRunes(constants.MaxDescriptionLength)),
		// serialized JSON Schema; must compile before it is stored
		field.Text("schema").NotEmpty().
			SchemaType(map[string]string{dialect.Postgres: "text"}),
		field.Text("instructions").Default("").
			SchemaType(map[string]string{dialect.Postgres: "text"}),
		field.Time("created_at").Default(time.Now).Immutable(),
		field.Time("updated_at").Default(time.Now).UpdateDefault(time.Now),
	}
}

func (Extractor) Edges() []ent.Edge {
	return []ent.Edge{
		edge.To("examples", Example.Type).
			Annotations(entsql.OnDelete(entsql.Cascade)),
		edge.To("runs", ExtractionRun.Type).
			Annotations(entsql.OnDelete(entsql.SetNull)),
	}
}

func (Extractor) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("name"),
	}
}
