package checkpoint

import "strings"

const defaultRefType = "queue"

// Ref is a typed source reference such as "system:mongo.orders". A bare id
// is treated as a queue reference.
type Ref struct {
	Type string
	ID   string
}

func ParseRef(source string) Ref {
	source = strings.TrimSpace(source)
	if typ, id, ok := strings.Cut(source, ":"); ok && typ != "" && id != "" {
		return Ref{Type: strings.ToLower(typ), ID: id}
	}
	return Ref{Type: defaultRefType, ID: source}
}

func (r Ref) String() string {
	return r.Type + ":" + r.ID
}

// Keys lists the lookup keys for the reference, most specific first.
func (r Ref) Keys() []string {
	if r.ID == "" {
		return nil
	}
	return []string{r.String(), r.ID}
}
