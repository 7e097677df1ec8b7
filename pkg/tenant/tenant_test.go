package tenant

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/campus/pkg/auth"
)

func str(s string) *string { return &s }

var (
	superAdmin  = &auth.PrincipalContext{UserID: "root", Role: auth.RoleSuperAdmin}
	schoolAdmin = &auth.PrincipalContext{UserID: "a1", Role: auth.RoleSchoolAdmin, SchoolID: str("A")}
	teacherB    = &auth.PrincipalContext{UserID: "t1", Role: auth.RoleTeacher, SchoolID: str("B")}
)

func TestQueryScope(t *testing.T) {
	tests := []struct {
		name      string
		p         *auth.PrincipalContext
		requested *string
		wantAll   bool
		wantID    string
	}{
		{"school admin own school", schoolAdmin, nil, false, "A"},
		{"school admin asks for other school", schoolAdmin, str("B"), false, "A"},
		{"super admin explicit", superAdmin, str("B"), false, "B"},
		{"super admin all", superAdmin, nil, true, ""},
		{"super admin empty request", superAdmin, str(""), true, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := QueryScope(tt.p, tt.requested)
			assert.Equal(t, tt.wantAll, s.All)
			if tt.wantID == "" {
				assert.Nil(t, s.SchoolID)
			} else {
				require.NotNil(t, s.SchoolID)
				assert.Equal(t, tt.wantID, *s.SchoolID)
			}
		})
	}

	assert.Equal(t, Scope{}, QueryScope(nil, str("A")))
	assert.Equal(t, Scope{}, QueryScope(&auth.PrincipalContext{Role: auth.RoleTeacher}, str("A")))
}

func TestQueryScope_DoesNotAlias(t *testing.T) {
	p := &auth.PrincipalContext{Role: auth.RoleTeacher, SchoolID: str("A")}
	s := QueryScope(p, nil)
	*s.SchoolID = "Z"
	assert.Equal(t, "A", *p.SchoolID)
}

func TestCreateTenant(t *testing.T) {
	assert.Equal(t, "A", *CreateTenant(schoolAdmin, str("B")))
	assert.Equal(t, "A", *CreateTenant(schoolAdmin, nil))
	assert.Equal(t, "B", *CreateTenant(superAdmin, str("B")))
	assert.Nil(t, CreateTenant(superAdmin, nil))
	assert.Equal(t, "X", *CreateTenant(nil, str("X")))
}

func TestAllows(t *testing.T) {
	assert.True(t, Allows(schoolAdmin, str("A")))
	assert.False(t, Allows(schoolAdmin, str("B")))
	assert.False(t, Allows(schoolAdmin, nil))
	assert.True(t, Allows(superAdmin, str("B")))
	assert.True(t, Allows(superAdmin, nil))
	assert.False(t, Allows(nil, str("A")))
}

func TestApplyToQuery(t *testing.T) {
	q := url.Values{"schoolId": {"B"}, "classId": {"7"}}
	assert.True(t, ApplyToQuery(q, schoolAdmin))
	assert.Equal(t, "A", q.Get("schoolId"))
	assert.Equal(t, "7", q.Get("classId"))

	q = url.Values{}
	ApplyToQuery(q, teacherB)
	assert.Equal(t, "B", q.Get("schoolId"))

	q = url.Values{"schoolId": {"B"}}
	ApplyToQuery(q, superAdmin)
	assert.Equal(t, "B", q.Get("schoolId"))

	q = url.Values{}
	ApplyToQuery(q, superAdmin)
	_, present := q["schoolId"]
	assert.False(t, present)

	q = url.Values{"schoolId": {"A"}}
	assert.False(t, ApplyToQuery(q, &auth.PrincipalContext{Role: auth.RoleTeacher}))
	assert.False(t, ApplyToQuery(q, nil))
	assert.Equal(t, "A", q.Get("schoolId"))
}

func TestApplyToBody(t *testing.T) {
	body := map[string]any{"name": "Grade 5", "schoolId": "B"}
	ApplyToBody(body, schoolAdmin)
	assert.Equal(t, "A", body["schoolId"])
	assert.Equal(t, "Grade 5", body["name"])

	body = map[string]any{"schoolId": 42}
	ApplyToBody(body, teacherB)
	assert.Equal(t, "B", body["schoolId"])

	body = map[string]any{"schoolId": "C"}
	ApplyToBody(body, superAdmin)
	assert.Equal(t, "C", body["schoolId"])

	body = map[string]any{}
	assert.True(t, ApplyToBody(body, superAdmin))
	assert.NotContains(t, body, "schoolId")

	body = map[string]any{"schoolId": "A"}
	assert.False(t, ApplyToBody(body, &auth.PrincipalContext{Role: auth.RoleParent}))
	assert.False(t, ApplyToBody(body, nil))
	assert.Equal(t, "A", body["schoolId"])
}
