package readthrough

import "github.com/saiset-co/sai-weather/types"

const DefaultNamespace = "weatherapi"

// KeyBuilder maps a subject to its store key, "<namespace>:<subject>".
// Subjects are used verbatim.
type KeyBuilder struct {
	namespace string
}

func NewKeyBuilder(namespace string) KeyBuilder {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	return KeyBuilder{namespace: namespace}
}

func (k KeyBuilder) Key(subject string) (string, error) {
	if subject == "" {
		return "", types.ErrSubjectEmpty
	}
	return k.namespace + ":" + subject, nil
}

func (k KeyBuilder) Namespace() string {
	return k.namespace
}
