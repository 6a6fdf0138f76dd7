package board

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gorilla/mux"
	"github.com/jackc/pgx/v5"

	"github.com/inamate/planboard/internal/auth"
	"github.com/inamate/planboard/internal/db/dbgen"
	"github.com/inamate/planboard/internal/document"
)

type memberKey struct{ board, user string }

// fakeQueries is an in-memory dbgen.Querier.
type fakeQueries struct {
	mu        sync.Mutex
	users     map[string]dbgen.User
	boards    map[string]dbgen.Board
	members   map[memberKey]dbgen.BoardRole
	snapshots map[string][]dbgen.Snapshot
}

func newFakeQueries() *fakeQueries {
	f := &fakeQueries{
		users:     make(map[string]dbgen.User),
		boards:    make(map[string]dbgen.Board),
		members:   make(map[memberKey]dbgen.BoardRole),
		snapshots: make(map[string][]dbgen.Snapshot),
	}
	for _, u := range []dbgen.User{
		{ID: "user_owner", Email: "owner@example.com", DisplayName: "Owner"},
		{ID: "user_guest", Email: "guest@example.com", DisplayName: "Guest"},
	} {
		f.users[u.ID] = u
	}
	return f
}

func (f *fakeQueries) AddBoardMember(_ context.Context, arg dbgen.AddBoardMemberParams) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.members[memberKey{arg.BoardID, arg.UserID}] = arg.Role
	return nil
}

func (f *fakeQueries) CreateBoard(_ context.Context, arg dbgen.CreateBoardParams) (dbgen.Board, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b := dbgen.Board{ID: arg.ID, Name: arg.Name, OwnerID: arg.OwnerID}
	f.boards[b.ID] = b
	return b, nil
}

func (f *fakeQueries) CreateSnapshot(_ context.Context, arg dbgen.CreateSnapshotParams) (dbgen.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := dbgen.Snapshot{ID: arg.ID, BoardID: arg.BoardID, Version: arg.Version, Document: arg.Document}
	f.snapshots[arg.BoardID] = append(f.snapshots[arg.BoardID], s)
	return s, nil
}

func (f *fakeQueries) CreateUser(_ context.Context, arg dbgen.CreateUserParams) (dbgen.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u := dbgen.User{ID: arg.ID, Email: arg.Email, Password: arg.Password, DisplayName: arg.DisplayName}
	f.users[u.ID] = u
	return u, nil
}

func (f *fakeQueries) DeleteBoard(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.boards, id)
	delete(f.snapshots, id)
	for k := range f.members {
		if k.board == id {
			delete(f.members, k)
		}
	}
	return nil
}

func (f *fakeQueries) GetBoard(_ context.Context, id string) (dbgen.Board, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.boards[id]
	if !ok {
		return dbgen.Board{}, pgx.ErrNoRows
	}
	return b, nil
}

func (f *fakeQueries) GetBoardMember(_ context.Context, arg dbgen.GetBoardMemberParams) (dbgen.BoardMember, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	role, ok := f.members[memberKey{arg.BoardID, arg.UserID}]
	if !ok {
		return dbgen.BoardMember{}, pgx.ErrNoRows
	}
	return dbgen.BoardMember{BoardID: arg.BoardID, UserID: arg.UserID, Role: role}, nil
}

func (f *fakeQueries) GetLatestSnapshot(_ context.Context, boardID string) (dbgen.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	snaps := f.snapshots[boardID]
	if len(snaps) == 0 {
		return dbgen.Snapshot{}, pgx.ErrNoRows
	}
	return snaps[len(snaps)-1], nil
}

func (f *fakeQueries) GetUserByEmail(_ context.Context, email string) (dbgen.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.Email == email {
			return u, nil
		}
	}
	return dbgen.User{}, pgx.ErrNoRows
}

func (f *fakeQueries) GetUserByID(_ context.Context, id string) (dbgen.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return dbgen.User{}, pgx.ErrNoRows
	}
	return u, nil
}

func (f *fakeQueries) ListBoardMembers(_ context.Context, boardID string) ([]dbgen.ListBoardMembersRow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var rows []dbgen.ListBoardMembersRow
	for k, role := range f.members {
		if k.board != boardID {
			continue
		}
		u := f.users[k.user]
		rows = append(rows, dbgen.ListBoardMembersRow{UserID: k.user, Role: role, DisplayName: u.DisplayName, Email: u.Email})
	}
	return rows, nil
}

func (f *fakeQueries) ListBoardsForUser(_ context.Context, userID string) ([]dbgen.Board, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []dbgen.Board
	for k := range f.members {
		if k.user == userID {
			out = append(out, f.boards[k.board])
		}
	}
	return out, nil
}

func (f *fakeQueries) RemoveBoardMember(_ context.Context, arg dbgen.RemoveBoardMemberParams) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.members, memberKey{arg.BoardID, arg.UserID})
	return nil
}

func (f *fakeQueries) TouchBoard(context.Context, string) error { return nil }

var _ dbgen.Querier = (*fakeQueries)(nil)

func TestCreateSeedsSnapshot(t *testing.T) {
	ctx := context.Background()
	q := newFakeQueries()
	s := NewService(q, nil)

	b, err := s.Create(ctx, "Roadmap", "user_owner", false)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if !strings.HasPrefix(b.ID, "board_") {
		t.Fatalf("board id = %q", b.ID)
	}
	role, err := s.Role(ctx, b.ID, "user_owner")
	if err != nil || role != dbgen.BoardRoleOwner {
		t.Fatalf("Role() = %q, %v", role, err)
	}

	loaded, err := s.Load(ctx, b.ID)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded == nil || len(loaded.Elements) != 0 {
		t.Fatalf("seeded board = %+v", loaded)
	}

	sample, err := s.Create(ctx, "Demo", "user_owner", true)
	if err != nil {
		t.Fatal(err)
	}
	if loaded, _ := s.Load(ctx, sample.ID); len(loaded.Elements) == 0 {
		t.Fatal("sample board seeded empty")
	}
}

func TestSaveBumpsVersion(t *testing.T) {
	ctx := context.Background()
	q := newFakeQueries()
	s := NewService(q, nil)
	b, _ := s.Create(ctx, "Roadmap", "user_owner", false)

	next := document.NewBoard()
	next.Elements = append(next.Elements, document.CanvasElement{
		ID: "el_1", Type: document.ElementTypeSticky, Visible: true,
	})
	next.Elements[0].Size.Width, next.Elements[0].Size.Height = 100, 100
	if err := s.Save(ctx, b.ID, next); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	snap, _ := q.GetLatestSnapshot(ctx, b.ID)
	if snap.Version != 2 {
		t.Fatalf("version = %d, want 2", snap.Version)
	}
	loaded, err := s.Load(ctx, b.ID)
	if err != nil || len(loaded.Elements) != 1 || loaded.Elements[0].ID != "el_1" {
		t.Fatalf("Load() = %+v, %v", loaded, err)
	}

	raw, err := s.GetLatestSnapshot(ctx, b.ID, "user_owner")
	if err != nil || !json.Valid(raw) {
		t.Fatalf("GetLatestSnapshot() = %s, %v", raw, err)
	}
}

func TestLoad(t *testing.T) {
	ctx := context.Background()
	q := newFakeQueries()
	s := NewService(q, nil)

	if _, err := s.Load(ctx, "board_missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Load(missing) error = %v", err)
	}

	q.boards["board_bare"] = dbgen.Board{ID: "board_bare", OwnerID: "user_owner"}
	if b, err := s.Load(ctx, "board_bare"); err != nil || b != nil {
		t.Fatalf("Load(no snapshot) = %v, %v", b, err)
	}

	q.snapshots["board_bare"] = []dbgen.Snapshot{{Version: 1, Document: []byte(`{"elements":[{"id":"x","type":"blob"}]}`)}}
	if _, err := s.Load(ctx, "board_bare"); !errors.Is(err, document.ErrCorruptBoard) {
		t.Fatalf("Load(corrupt) error = %v", err)
	}
}

func TestMembership(t *testing.T) {
	ctx := context.Background()
	s := NewService(newFakeQueries(), nil)
	b, _ := s.Create(ctx, "Roadmap", "user_owner", false)

	if _, err := s.Get(ctx, b.ID, "user_guest"); !errors.Is(err, ErrNotMember) {
		t.Fatalf("Get(non-member) error = %v", err)
	}
	if err := s.InviteByEmail(ctx, b.ID, "user_guest", "owner@example.com"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("Invite by non-owner error = %v", err)
	}
	if err := s.InviteByEmail(ctx, b.ID, "user_owner", "nobody@example.com"); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("Invite unknown error = %v", err)
	}
	if err := s.InviteByEmail(ctx, b.ID, "user_owner", "guest@example.com"); err != nil {
		t.Fatalf("Invite() error = %v", err)
	}
	if role, _ := s.Role(ctx, b.ID, "user_guest"); role != dbgen.BoardRoleEditor {
		t.Fatalf("guest role = %q", role)
	}
	members, err := s.ListMembers(ctx, b.ID, "user_guest")
	if err != nil || len(members) != 2 {
		t.Fatalf("ListMembers() = %v, %v", members, err)
	}

	if err := s.RemoveMember(ctx, b.ID, "user_owner", "user_owner"); !errors.Is(err, ErrOwnerRemoval) {
		t.Fatalf("remove owner error = %v", err)
	}
	if err := s.Delete(ctx, b.ID, "user_guest"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("Delete by guest error = %v", err)
	}
	if err := s.RemoveMember(ctx, b.ID, "user_owner", "user_guest"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Role(ctx, b.ID, "user_guest"); !errors.Is(err, ErrNotMember) {
		t.Fatal("guest still a member")
	}
}

func TestHandler(t *testing.T) {
	s := NewService(newFakeQueries(), nil)
	r := mux.NewRouter()
	api := r.PathPrefix("/api").Subrouter()
	api.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(auth.WithUserID(r.Context(), r.Header.Get("X-User"))))
		})
	})
	NewHandler(s).Routes(api)

	do := func(method, path, user, body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("X-User", user)
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		return rec
	}

	if rec := do(http.MethodPost, "/api/boards", "user_owner", `{"name":"  "}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("blank name status = %d", rec.Code)
	}
	rec := do(http.MethodPost, "/api/boards", "user_owner", `{"name":"Roadmap"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d: %s", rec.Code, rec.Body)
	}
	var created Board
	if err := json.NewDecoder(rec.Body).Decode(&created); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name, method, path, user, body string
		want                           int
	}{
		{"get", http.MethodGet, "/api/boards/" + created.ID, "user_owner", "", http.StatusOK},
		{"get as stranger", http.MethodGet, "/api/boards/" + created.ID, "user_guest", "", http.StatusForbidden},
		{"snapshot", http.MethodGet, "/api/boards/" + created.ID + "/snapshots/latest", "user_owner", "", http.StatusOK},
		{"list", http.MethodGet, "/api/boards", "user_owner", "", http.StatusOK},
		{"invite unknown", http.MethodPost, "/api/boards/" + created.ID + "/invite", "user_owner", `{"email":"x@example.com"}`, http.StatusNotFound},
		{"invite", http.MethodPost, "/api/boards/" + created.ID + "/invite", "user_owner", `{"email":"Guest@example.com"}`, http.StatusCreated},
		{"members", http.MethodGet, "/api/boards/" + created.ID + "/members", "user_guest", "", http.StatusOK},
		{"delete as guest", http.MethodDelete, "/api/boards/" + created.ID, "user_guest", "", http.StatusForbidden},
		{"delete", http.MethodDelete, "/api/boards/" + created.ID, "user_owner", "", http.StatusNoContent},
		{"get deleted", http.MethodGet, "/api/boards/" + created.ID, "user_owner", "", http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rec := do(tt.method, tt.path, tt.user, tt.body); rec.Code != tt.want {
				t.Fatalf("status = %d, want %d: %s", rec.Code, tt.want, rec.Body)
			}
		})
	}
}
