package rpc

import "context"

// MetaTargetID is the well-known id every Context auto-binds.
const MetaTargetID = "meta"

// MetaHandler is the built-in target exposing ping/connectionId/serverInfo,
// bound per connection as "meta". It is evergreen: exempt
// from idle GC.
type MetaHandler struct {
	connectionID string
	serverInfo   map[string]any
}

// NewMetaHandler builds the meta target for one connection.
func NewMetaHandler(connectionID string, serverInfo map[string]any) *MetaHandler {
	return &MetaHandler{connectionID: connectionID, serverInfo: serverInfo}
}

func (m *MetaHandler) Ping(ctx context.Context) (bool, error) {
	return true, nil
}

func (m *MetaHandler) ConnectionID(ctx context.Context) (string, error) {
	return m.connectionID, nil
}

func (m *MetaHandler) ServerInfo(ctx context.Context) (map[string]any, error) {
	return m.serverInfo, nil
}

// metaSchema is built once and reused for every connection's MetaHandler,
// since the method table never varies per instance.
var metaSchema = NewSchemaBuilder(&MetaHandler{}).
	Method(MethodSpec{
		Name:           "ping",
		ResultLoggable: true,
		Invoke: func(ctx context.Context, recv any, args []any) (any, error) {
			return recv.(*MetaHandler).Ping(ctx)
		},
	}).
	Method(MethodSpec{
		Name:           "connectionId",
		ResultLoggable: true,
		Invoke: func(ctx context.Context, recv any, args []any) (any, error) {
			return recv.(*MetaHandler).ConnectionID(ctx)
		},
	}).
	Method(MethodSpec{
		Name:           "serverInfo",
		ResultLoggable: true,
		Invoke: func(ctx context.Context, recv any, args []any) (any, error) {
			return recv.(*MetaHandler).ServerInfo(ctx)
		},
	}).
	Build()

func init() {
	RegisterSchema(&MetaHandler{}, metaSchema)
}

// MetaSchema returns the shared Schema for MetaHandler.
func MetaSchema() Schema { return metaSchema }
