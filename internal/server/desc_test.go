package server_test

import (
	"NoteLedger/internal/server"
	"context"
	"os"
	"reflect"
	"regexp"
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const protoFile = "../../proto/noteledger/v1/noteledger.proto"

var (
	protoPackageRe = regexp.MustCompile(`(?m)^package ([\w.]+);`)
	protoServiceRe = regexp.MustCompile(`(?m)^service (\w+) \{`)
	protoRPCRe     = regexp.MustCompile(`rpc (\w+)\((\w+)\) returns \((\w+)\);`)
	protoMessageRe = regexp.MustCompile(`(?s)message (\w+) \{(.*?)\}`)
	protoFieldRe   = regexp.MustCompile(`(?m)^\s+(?:repeated )?[\w.]+ (\w+) = \d+;`)
)

type protoContract struct {
	service  string
	rpcs     [][3]string // name, request, response
	messages map[string][]string
}

func loadProtoContract(t *testing.T) protoContract {
	t.Helper()
	raw, err := os.ReadFile(protoFile)
	require.NoError(t, err)
	src := string(raw)

	pkg := protoPackageRe.FindStringSubmatch(src)
	svc := protoServiceRe.FindStringSubmatch(src)
	require.NotNil(t, pkg)
	require.NotNil(t, svc)

	c := protoContract{service: pkg[1] + "." + svc[1], messages: map[string][]string{}}
	for _, m := range protoRPCRe.FindAllStringSubmatch(src, -1) {
		c.rpcs = append(c.rpcs, [3]string{m[1], m[2], m[3]})
	}
	for _, m := range protoMessageRe.FindAllStringSubmatch(src, -1) {
		var fields []string
		for _, f := range protoFieldRe.FindAllStringSubmatch(m[2], -1) {
			fields = append(fields, f[1])
		}
		sort.Strings(fields)
		c.messages[m[1]] = fields
	}
	return c
}

// jsonFields lists the JSON keys a message struct encodes to.
func jsonFields(typ reflect.Type) []string {
	var out []string
	for i := 0; i < typ.NumField(); i++ {
		name, _, _ := strings.Cut(typ.Field(i).Tag.Get("json"), ",")
		if name == "" || name == "-" {
			continue
		}
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func TestServiceDesc_MatchesProto(t *testing.T) {
	c := loadProtoContract(t)
	desc := server.NoteLedger_ServiceDesc

	assert.Equal(t, c.service, desc.ServiceName)
	require.Len(t, desc.Methods, len(c.rpcs))
	for i, rpc := range c.rpcs {
		assert.Equal(t, rpc[0], desc.Methods[i].MethodName)
	}
}

func TestMessages_MatchProto(t *testing.T) {
	c := loadProtoContract(t)
	iface := reflect.TypeOf((*server.NoteLedgerServer)(nil)).Elem()
	ctxType := reflect.TypeOf((*context.Context)(nil)).Elem()

	checked := map[string]bool{}
	var check func(name string, typ reflect.Type)
	check = func(name string, typ reflect.Type) {
		if checked[name] {
			return
		}
		checked[name] = true

		want, ok := c.messages[name]
		require.True(t, ok, "message %s missing from proto", name)
		assert.Equal(t, want, jsonFields(typ), "fields of %s", name)

		for i := 0; i < typ.NumField(); i++ {
			ft := typ.Field(i).Type
			if ft.Kind() == reflect.Slice && ft.Elem().Kind() == reflect.Struct {
				// ledger.Entry encodes through its own MarshalJSON as JournalEntry.
				if ft.Elem().Name() == "Entry" {
					continue
				}
				check(ft.Elem().Name(), ft.Elem())
			}
		}
	}

	for _, rpc := range c.rpcs {
		m, ok := iface.MethodByName(rpc[0])
		require.True(t, ok, "rpc %s has no Go method", rpc[0])
		require.Equal(t, 2, m.Type.NumIn())
		require.True(t, m.Type.In(0).Implements(ctxType))

		req, resp := m.Type.In(1).Elem(), m.Type.Out(0).Elem()
		assert.Equal(t, rpc[1], req.Name(), "request of %s", rpc[0])
		assert.Equal(t, rpc[2], resp.Name(), "response of %s", rpc[0])
		check(req.Name(), req)
		check(resp.Name(), resp)
	}
}
