package audit

import (
	"net/http"
	"strings"
)

// ActionResource holds action and resource derived from an HTTP route.
type ActionResource struct {
	Action   string
	Resource string
}

// Route overrides for actions that are not plain CRUD.
var routeOverrides = map[string]ActionResource{
	"POST /v1/delegation/sessions/{id}/revoke": {Action: "revoke", Resource: "delegation_session"},
	"POST /v1/registry/services":               {Action: "register", Resource: "registry_service"},
	"POST /v1/operator/token":                  {Action: "issue", Resource: "operator_token"},
	"DELETE /v1/payments/sessions/{id}":        {Action: "cancel", Resource: "payment_session"},
}

// ParseRoute returns action and resource for an HTTP method and chi route pattern
// (e.g. GET /v1/registry/services/{id}). Action is a verb: get, list, create, update, delete.
// Resource joins the literal path segments after the version prefix, singularizing the last one.
func ParseRoute(method, pattern string) ActionResource {
	if ar, ok := routeOverrides[method+" "+pattern]; ok {
		return ar
	}
	var literals []string
	endsWithParam := false
	for _, seg := range strings.Split(strings.Trim(pattern, "/"), "/") {
		switch {
		case seg == "" || seg == "*":
			continue
		case strings.HasPrefix(seg, "{"):
			endsWithParam = true
			continue
		case len(literals) == 0 && isVersion(seg):
			continue
		}
		endsWithParam = false
		literals = append(literals, seg)
	}
	if len(literals) == 0 {
		return ActionResource{Action: "unknown", Resource: "unknown"}
	}
	literals[len(literals)-1] = singular(literals[len(literals)-1])
	return ActionResource{Action: methodToAction(method, endsWithParam), Resource: strings.Join(literals, "_")}
}

func isVersion(seg string) bool {
	return len(seg) > 1 && seg[0] == 'v' && strings.Trim(seg[1:], "0123456789") == ""
}

func singular(s string) string {
	if strings.HasSuffix(s, "ss") {
		return s
	}
	return strings.TrimSuffix(s, "s")
}

func methodToAction(method string, single bool) string {
	switch method {
	case http.MethodGet:
		if single {
			return "get"
		}
		return "list"
	case http.MethodPost:
		return "create"
	case http.MethodPut, http.MethodPatch:
		return "update"
	case http.MethodDelete:
		return "delete"
	default:
		return strings.ToLower(method)
	}
}
