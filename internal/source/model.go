package source

import (
	"context"
	"io/ioutil"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"

	"github.com/denismitr/evolve/schema"
)

var ErrModelNotConfigured = errors.New("target model is not configured")

// ModelFile reads the target model from a YAML document on every call,
// so edits to the file are picked up without restarting.
type ModelFile struct {
	path string
}

var _ ModelProvider = (*ModelFile)(nil)

func NewModelFile(path string) *ModelFile {
	return &ModelFile{path: path}
}

func (mf *ModelFile) Model(ctx context.Context) (*schema.Model, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b, err := ioutil.ReadFile(mf.path)
	if err != nil {
		return nil, errors.Wrapf(err, "could not read model file [%s]", mf.path)
	}

	return DecodeModel(b)
}

// DecodeModel parses and validates a YAML model document.
func DecodeModel(b []byte) (*schema.Model, error) {
	var m schema.Model
	if err := yaml.UnmarshalStrict(b, &m); err != nil {
		return nil, errors.Wrap(err, "could not decode model")
	}

	if err := m.Validate(); err != nil {
		return nil, err
	}

	return schema.NewModel(m.Tables...), nil
}

// StaticModel serves a model built in code.
type StaticModel struct {
	model *schema.Model
}

var _ ModelProvider = StaticModel{}

func NewStaticModel(m *schema.Model) StaticModel {
	return StaticModel{model: m}
}

func (s StaticModel) Model(context.Context) (*schema.Model, error) {
	if s.model == nil {
		return nil, ErrModelNotConfigured
	}

	return s.model.Clone(), nil
}
