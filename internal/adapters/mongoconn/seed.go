package mongoconn

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"golang.org/x/crypto/bcrypt"
)

// SeedOptions sizes the demo user-management data set.
type SeedOptions struct {
	Drop  bool // drop users, roles and activity_logs first
	Roles int
	Users int
	Logs  int
	Rand  *rand.Rand
	Now   func() time.Time
}

// SeedReport counts what SeedDemo inserted.
type SeedReport struct {
	Database string `json:"database"`
	Roles    int    `json:"roles"`
	Users    int    `json:"users"`
	Logs     int    `json:"activity_logs"`
	Dropped  bool   `json:"dropped"`
}

var (
	seedFirstNames  = []string{"Ada", "Grace", "Alan", "Linus", "Margaret", "Dennis", "Barbara", "Ken", "Frances", "Edsger", "Radia", "Niklaus"}
	seedLastNames   = []string{"Lovelace", "Hopper", "Turing", "Torvalds", "Hamilton", "Ritchie", "Liskov", "Thompson", "Allen", "Dijkstra", "Perlman", "Wirth"}
	seedCities      = []string{"Berlin", "Lisbon", "Toronto", "Austin", "Osaka", "Nairobi", "Melbourne", "Oslo"}
	seedStates      = []string{"Berlin", "Lisboa", "Ontario", "Texas", "Osaka", "Nairobi", "Victoria", "Oslo"}
	seedCountries   = []string{"Germany", "Portugal", "Canada", "United States", "Japan", "Kenya", "Australia", "Norway"}
	seedStreets     = []string{"Main St", "Oak Ave", "Harbor Rd", "Elm St", "Station Sq", "Park Ln"}
	seedJobs        = []string{"Auditor", "Analyst", "Support", "Contractor", "Reviewer", "Operator"}
	seedDepartments = []string{"Engineering", "Marketing", "Sales", "HR", "Finance", "Support", "Operations", "Research"}
	seedStatuses    = []string{"Active", "Inactive", "Suspended", "Pending"}
	seedActivities  = []string{
		"login", "logout", "profile_update", "password_change",
		"failed_login", "file_download", "file_upload", "settings_change",
		"permission_granted", "permission_revoked", "account_locked",
	}
	seedDevices  = []string{"desktop", "mobile", "tablet"}
	seedBrowsers = []string{"Chrome", "Firefox", "Safari", "Edge"}
)

const seedUserBatch = 25

// SeedDemo fills the selected database with roles, users and activity logs.
// Existing collections are only dropped when opts.Drop is set or the store
// allows drops.
func (s *Store) SeedDemo(ctx context.Context, opts SeedOptions) (*SeedReport, error) {
	db, err := s.database()
	if err != nil {
		return nil, err
	}
	if opts.Roles <= 0 {
		opts.Roles = 7
	}
	if opts.Users <= 0 {
		opts.Users = 100
	}
	if opts.Logs <= 0 {
		opts.Logs = 500
	}
	if opts.Rand == nil {
		opts.Rand = rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0))
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	g := &generator{r: opts.Rand, now: opts.Now().UTC().Truncate(time.Millisecond)}

	report := &SeedReport{Database: db.Name()}
	if opts.Drop || s.opts.AllowDrop {
		s.log.Info().Msg("dropping existing collections")
		for _, name := range []string{"users", "roles", "activity_logs"} {
			if err := db.Collection(name).Drop(ctx); err != nil {
				return nil, fmt.Errorf("failed to drop %s: %w", name, err)
			}
		}
		report.Dropped = true
	} else {
		s.log.Warn().Msg("collection dropping disabled for safety, appending to existing data")
	}

	roles := g.roles(opts.Roles)
	if _, err := db.Collection("roles").InsertMany(ctx, toAny(roles)); err != nil {
		return nil, fmt.Errorf("failed to insert roles: %w", err)
	}
	report.Roles = len(roles)
	s.log.Info().Int("count", len(roles)).Msg("inserted roles")

	users, err := g.users(roles, opts.Users)
	if err != nil {
		return nil, err
	}
	for i := 0; i < len(users); i += seedUserBatch {
		batch := users[i:min(i+seedUserBatch, len(users))]
		if _, err := db.Collection("users").InsertMany(ctx, toAny(batch)); err != nil {
			return nil, fmt.Errorf("failed to insert users: %w", err)
		}
		s.log.Debug().Int("inserted", i+len(batch)).Int("total", len(users)).Msg("inserted user batch")
	}
	report.Users = len(users)
	s.log.Info().Int("count", len(users)).Msg("inserted users")

	logs := g.activityLogs(users, opts.Logs)
	if _, err := db.Collection("activity_logs").InsertMany(ctx, toAny(logs)); err != nil {
		return nil, fmt.Errorf("failed to insert activity logs: %w", err)
	}
	report.Logs = len(logs)
	s.log.Info().Int("count", len(logs)).Msg("inserted activity logs")

	return report, nil
}

func toAny(docs []bson.M) []any {
	out := make([]any, len(docs))
	for i, d := range docs {
		out[i] = d
	}
	return out
}

type generator struct {
	r   *rand.Rand
	now time.Time
}

func pick[T any](r *rand.Rand, items []T) T { return items[r.IntN(len(items))] }

func (g *generator) chance(p float64) bool { return g.r.Float64() < p }

func (g *generator) daysAgo(lo, hi int) time.Time {
	return g.now.Add(-time.Duration(lo+g.r.IntN(hi-lo+1)) * 24 * time.Hour)
}

func (g *generator) between(from time.Time) time.Time {
	span := g.now.Sub(from)
	if span <= 0 {
		return g.now
	}
	return from.Add(time.Duration(g.r.Int64N(int64(span)))).Truncate(time.Millisecond)
}

func (g *generator) sample(items []string, n int) []string {
	perm := g.r.Perm(len(items))
	out := make([]string, n)
	for i := range n {
		out[i] = items[perm[i]]
	}
	return out
}

func (g *generator) ipv4() string {
	return fmt.Sprintf("%d.%d.%d.%d", 1+g.r.IntN(223), g.r.IntN(256), g.r.IntN(256), 1+g.r.IntN(254))
}

func (g *generator) roles(n int) []bson.M {
	base := []struct {
		name, desc string
		perms      []string
	}{
		{"Admin", "Full system access with all privileges", []string{"create", "read", "update", "delete", "manage_users", "manage_roles"}},
		{"Manager", "Access to manage content and users", []string{"create", "read", "update", "delete", "manage_users"}},
		{"Editor", "Can create and modify content", []string{"create", "read", "update"}},
		{"Viewer", "Read-only access to content", []string{"read"}},
	}

	roles := make([]bson.M, 0, n)
	for _, b := range base {
		roles = append(roles, bson.M{
			"role_id":     uuid.NewString(),
			"name":        b.name,
			"description": b.desc,
			"permissions": b.perms,
			"created_at":  g.daysAgo(100, 365),
		})
	}
	for len(roles) < n {
		name := pick(g.r, seedJobs)
		roles = append(roles, bson.M{
			"role_id":     uuid.NewString(),
			"name":        name,
			"description": name + " role with custom permissions",
			"permissions": g.sample([]string{"create", "read", "update", "delete"}, 1+g.r.IntN(4)),
			"created_at":  g.daysAgo(30, 365),
		})
	}
	return roles
}

func (g *generator) users(roles []bson.M, n int) ([]bson.M, error) {
	users := make([]bson.M, 0, n)
	for i := range n {
		first, last := pick(g.r, seedFirstNames), pick(g.r, seedLastNames)
		username := fmt.Sprintf("%s.%s%d", strings.ToLower(first), strings.ToLower(last), i+1)
		created := g.daysAgo(0, 3*365)

		var lastLogin any
		if g.chance(0.9) {
			lastLogin = g.between(created)
		}

		hash, err := bcrypt.GenerateFromPassword([]byte(uuid.NewString()[:12]), bcrypt.MinCost)
		if err != nil {
			return nil, fmt.Errorf("failed to hash password: %w", err)
		}

		role := pick(g.r, roles)
		city := g.r.IntN(len(seedCities))

		var bio, picture any
		if g.chance(0.7) {
			bio = fmt.Sprintf("%s works in %s.", first, pick(g.r, seedDepartments))
		}
		if g.chance(0.8) {
			picture = fmt.Sprintf("https://randomuser.me/api/portraits/%s/%d.jpg", pick(g.r, []string{"men", "women"}), 1+g.r.IntN(99))
		}

		users = append(users, bson.M{
			"user_id":       uuid.NewString(),
			"username":      username,
			"email":         username + "@example.com",
			"password_hash": string(hash),
			"first_name":    first,
			"last_name":     last,
			"role_id":       role["role_id"],
			"role_name":     role["name"],
			"department":    pick(g.r, seedDepartments),
			"phone":         fmt.Sprintf("+1-555-%04d", g.r.IntN(10000)),
			"address": bson.M{
				"street":   fmt.Sprintf("%d %s", 1+g.r.IntN(999), pick(g.r, seedStreets)),
				"city":     seedCities[city],
				"state":    seedStates[city],
				"zip_code": fmt.Sprintf("%05d", g.r.IntN(100000)),
				"country":  seedCountries[city],
			},
			"status":     pick(g.r, seedStatuses),
			"verified":   g.chance(0.9),
			"created_at": created,
			"last_login": lastLogin,
			"profile": bson.M{
				"bio":                 bio,
				"profile_picture":     picture,
				"language_preference": pick(g.r, []string{"en", "es", "fr", "de", "zh"}),
			},
			"settings": bson.M{
				"notifications_enabled": g.chance(0.8),
				"two_factor_auth":       g.chance(0.3),
				"theme":                 pick(g.r, []string{"light", "dark", "system"}),
			},
		})
	}
	return users, nil
}

func (g *generator) activityLogs(users []bson.M, n int) []bson.M {
	logs := make([]bson.M, 0, n)
	for range n {
		user := pick(g.r, users)
		activity := pick(g.r, seedActivities)

		details := bson.M{}
		switch activity {
		case "login":
			details = bson.M{"ip_address": g.ipv4(), "device": pick(g.r, seedDevices), "browser": pick(g.r, seedBrowsers), "success": true}
		case "failed_login":
			details = bson.M{
				"ip_address": g.ipv4(),
				"device":     pick(g.r, seedDevices),
				"browser":    pick(g.r, seedBrowsers),
				"reason":     pick(g.r, []string{"invalid_password", "account_locked", "security_check_failed"}),
			}
		case "profile_update":
			details = bson.M{"fields_changed": g.sample([]string{"name", "email", "phone", "address", "bio"}, 1+g.r.IntN(3))}
		case "settings_change":
			details = bson.M{
				"setting":   pick(g.r, []string{"notifications", "privacy", "theme", "language"}),
				"old_value": "old_setting_value",
				"new_value": "new_setting_value",
			}
		}

		ip, ok := details["ip_address"]
		if !ok {
			ip = g.ipv4()
		}
		logs = append(logs, bson.M{
			"log_id":        uuid.NewString(),
			"user_id":       user["user_id"],
			"username":      user["username"],
			"activity_type": activity,
			"timestamp":     g.between(user["created_at"].(time.Time)),
			"details":       details,
			"ip_address":    ip,
		})
	}
	return logs
}
