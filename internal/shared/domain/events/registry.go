package events

// EventMetadata describe a qué topic se enruta un tipo de evento.
type EventMetadata struct {
	Topic   string
	Version int
}

// Registry es el mapa estático tipo de evento -> metadatos, resuelto al arrancar.
type Registry map[string]EventMetadata

// Lookup busca los metadatos de un tipo de evento.
func (r Registry) Lookup(eventType string) (EventMetadata, bool) {
	m, ok := r[eventType]
	return m, ok
}

// Merge combina varios registros; el último gana en caso de colisión.
func Merge(registries ...Registry) Registry {
	out := make(Registry)
	for _, reg := range registries {
		for k, v := range reg {
			out[k] = v
		}
	}
	return out
}
