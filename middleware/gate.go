package middleware

import (
	"net/http"
	"slices"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/upb/model-control-plane/models"
	"github.com/upb/model-control-plane/services"
	"github.com/upb/model-control-plane/utils"
	"go.uber.org/zap"
)

// Operation names a gated boundary operation
type Operation string

const (
	OpLoadModel     Operation = "load_model"
	OpListModels    Operation = "list_models"
	OpUnloadModel   Operation = "unload_model"
	OpPredict       Operation = "predict"
	OpCreateUser    Operation = "create_user"
	OpDeleteUser    Operation = "delete_user"
	OpIssueAPIKey   Operation = "issue_api_key"
	OpIssuePassword Operation = "issue_password"
	OpGetRole       Operation = "get_role"
	OpUpdateRole    Operation = "update_role"
	OpListUsers     Operation = "list_users"
	OpReset         Operation = "reset"
	OpResourceUsage Operation = "resource_usage"
	OpUploadData    Operation = "upload_data"
	OpDownloadData  Operation = "download_data"
	OpListData      Operation = "list_data"
	OpVariables     Operation = "variables"
	OpListAuditLogs Operation = "list_audit_logs"
)

// SelfParam is the route parameter compared against the principal for self rules
const SelfParam = "username"

// Rule admits a principal whose role is listed, or, with Self set, a principal acting
// on its own username
type Rule struct {
	Roles []models.UserRole
	Self  bool
}

// Policy maps each operation to its rule. Operations without a rule are denied.
type Policy map[Operation]Rule

var (
	anyRole          = models.Roles
	adminOnly        = []models.UserRole{models.RoleAdmin}
	adminOrScientist = []models.UserRole{models.RoleAdmin, models.RoleDataScientist}
)

// DefaultPolicy returns the role table of the control plane
func DefaultPolicy() Policy {
	return Policy{
		OpLoadModel:     {Roles: adminOrScientist},
		OpListModels:    {Roles: anyRole},
		OpUnloadModel:   {Roles: adminOrScientist},
		OpPredict:       {Roles: anyRole},
		OpCreateUser:    {Roles: adminOnly},
		OpDeleteUser:    {Roles: adminOnly},
		OpIssueAPIKey:   {Roles: adminOnly, Self: true},
		OpIssuePassword: {Roles: adminOnly, Self: true},
		OpGetRole:       {Roles: adminOrScientist},
		OpUpdateRole:    {Roles: adminOnly},
		OpListUsers:     {Roles: anyRole},
		OpReset:         {Roles: adminOnly},
		OpResourceUsage: {Roles: adminOnly},
		OpUploadData:    {Roles: anyRole},
		OpDownloadData:  {Roles: adminOrScientist},
		OpListData:      {Roles: adminOrScientist},
		OpVariables:     {Roles: anyRole},
		OpListAuditLogs: {Roles: adminOnly},
	}
}

// Allows reports whether principal may perform op on target, the username the
// operation acts on (empty when it acts on none)
func (p Policy) Allows(op Operation, principal models.Principal, target string) bool {
	rule, ok := p[op]
	if !ok {
		return false
	}
	if slices.Contains(rule.Roles, principal.Role) {
		return true
	}
	return rule.Self && target != "" && target == principal.Username
}

// Gate enforces a Policy after authentication
type Gate struct {
	policy Policy
	logger *zap.Logger

	mu       sync.Mutex
	required map[Operation]bool
}

// NewGate creates a new Gate
func NewGate(policy Policy, logger *zap.Logger) *Gate {
	return &Gate{policy: policy, logger: logger, required: make(map[Operation]bool)}
}

// Unenforced returns the policy operations no route has required, sorted
func (g *Gate) Unenforced() []Operation {
	g.mu.Lock()
	defer g.mu.Unlock()

	var ops []Operation
	for op := range g.policy {
		if !g.required[op] {
			ops = append(ops, op)
		}
	}
	slices.Sort(ops)
	return ops
}

// Policy returns the enforced policy
func (g *Gate) Policy() Policy {
	return g.policy
}

// Require denies the request unless the principal is allowed to perform op
func (g *Gate) Require(op Operation) func(http.Handler) http.Handler {
	g.mu.Lock()
	g.required[op] = true
	g.mu.Unlock()

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := GetRequestIDFromContext(r.Context())

			principal := GetPrincipalFromContext(r.Context())
			if principal == nil {
				g.logger.Error("gate reached without a principal",
					zap.String("request_id", requestID),
					zap.String("operation", string(op)))
				_ = utils.WriteUnauthorized(w, services.ErrUnauthenticated.Code, services.ErrUnauthenticated.Message)
				return
			}

			target := chi.URLParam(r, SelfParam)
			if !g.policy.Allows(op, *principal, target) {
				g.logger.Warn("operation denied",
					zap.String("request_id", requestID),
					zap.String("operation", string(op)),
					zap.String("username", principal.Username),
					zap.String("role", string(principal.Role)),
					zap.String("target", target))
				_ = utils.WriteError(w, http.StatusForbidden, services.ErrForbidden.Code, "user does not have permissions", nil)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
