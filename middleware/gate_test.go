package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/upb/model-control-plane/models"
	"go.uber.org/zap"
)

var (
	admin     = models.Principal{Username: "root", Role: models.RoleAdmin}
	scientist = models.Principal{Username: "alice", Role: models.RoleDataScientist}
	plainUser = models.Principal{Username: "bob", Role: models.RoleUser}
)

func TestPolicy_Allows(t *testing.T) {
	p := DefaultPolicy()

	tests := []struct {
		name      string
		op        Operation
		principal models.Principal
		target    string
		want      bool
	}{
		{"admin creates users", OpCreateUser, admin, "", true},
		{"scientist cannot create users", OpCreateUser, scientist, "", false},
		{"scientist loads models", OpLoadModel, scientist, "", true},
		{"user cannot load models", OpLoadModel, plainUser, "", false},
		{"user cannot unload models", OpUnloadModel, plainUser, "", false},
		{"user predicts", OpPredict, plainUser, "", true},
		{"user lists models", OpListModels, plainUser, "", true},
		{"user reissues own key", OpIssueAPIKey, plainUser, "bob", true},
		{"user cannot reissue others key", OpIssueAPIKey, plainUser, "alice", false},
		{"admin reissues any key", OpIssueAPIKey, admin, "bob", true},
		{"user reissues own password", OpIssuePassword, plainUser, "bob", true},
		{"scientist cannot reissue others password", OpIssuePassword, scientist, "bob", false},
		{"scientist reads roles", OpGetRole, scientist, "bob", true},
		{"user cannot read roles, even own", OpGetRole, plainUser, "bob", false},
		{"scientist cannot update roles", OpUpdateRole, scientist, "bob", false},
		{"user uploads data", OpUploadData, plainUser, "", true},
		{"user cannot download data", OpDownloadData, plainUser, "", false},
		{"scientist lists data", OpListData, scientist, "", true},
		{"only admin resets", OpReset, scientist, "", false},
		{"only admin reads usage", OpResourceUsage, admin, "", true},
		{"unknown operation denied", Operation("drop_tables"), admin, "", false},
		{"self rule needs a target", OpIssueAPIKey, models.Principal{Username: "", Role: models.RoleUser}, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, p.Allows(tt.op, tt.principal, tt.target))
		})
	}
}

func TestGate_Require(t *testing.T) {
	gate := NewGate(DefaultPolicy(), zap.NewNop())

	newRouter := func(p *models.Principal) http.Handler {
		r := chi.NewRouter()
		r.Use(func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
				if p != nil {
					req = req.WithContext(WithPrincipal(req.Context(), p))
				}
				next.ServeHTTP(w, req)
			})
		})
		r.With(gate.Require(OpIssueAPIKey)).Put("/users/api_key/issue/{username}", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		})
		return r
	}

	tests := []struct {
		name      string
		principal *models.Principal
		path      string
		want      int
	}{
		{"self", &plainUser, "/users/api_key/issue/bob", http.StatusOK},
		{"other", &plainUser, "/users/api_key/issue/alice", http.StatusForbidden},
		{"admin", &admin, "/users/api_key/issue/alice", http.StatusOK},
		{"no principal", nil, "/users/api_key/issue/bob", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			newRouter(tt.principal).ServeHTTP(w, httptest.NewRequest(http.MethodPut, tt.path, nil))
			assert.Equal(t, tt.want, w.Code)
		})
	}
}

func TestGate_Unenforced(t *testing.T) {
	gate := NewGate(Policy{
		OpReset:     {Roles: adminOnly},
		OpPredict:   {Roles: anyRole},
		OpListUsers: {Roles: anyRole},
	}, zap.NewNop())
	assert.Equal(t, []Operation{OpListUsers, OpPredict, OpReset}, gate.Unenforced())

	gate.Require(OpPredict)
	gate.Require(OpListUsers)
	assert.Equal(t, []Operation{OpReset}, gate.Unenforced())

	// Operations outside the policy are not reported
	gate.Require(OpReset)
	gate.Require(Operation("unknown"))
	assert.Empty(t, gate.Unenforced())
}
