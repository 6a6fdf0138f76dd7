package board

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/inamate/planboard/internal/db/dbgen"
	"github.com/inamate/planboard/internal/document"
	"github.com/inamate/planboard/internal/typeid"
)

var (
	ErrNotFound     = errors.New("board not found")
	ErrForbidden    = errors.New("forbidden")
	ErrNotMember    = errors.New("not a board member")
	ErrUserNotFound = errors.New("user not found")
	ErrOwnerRemoval = errors.New("cannot remove board owner")
)

type Service struct {
	queries dbgen.Querier
	logger  *slog.Logger
}

func NewService(queries dbgen.Querier, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{queries: queries, logger: logger}
}

type Board struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	OwnerID   string `json:"ownerId"`
	CreatedAt string `json:"createdAt"`
	UpdatedAt string `json:"updatedAt"`
}

type Member struct {
	UserID      string `json:"userId"`
	Role        string `json:"role"`
	DisplayName string `json:"displayName"`
	Email       string `json:"email"`
}

// Create makes a board owned by ownerID and seeds it with an empty
// snapshot, or the sample board when sample is set.
func (s *Service) Create(ctx context.Context, name, ownerID string, sample bool) (*Board, error) {
	boardID := typeid.NewBoardID()

	dbBoard, err := s.queries.CreateBoard(ctx, dbgen.CreateBoardParams{
		ID:      boardID,
		Name:    name,
		OwnerID: ownerID,
	})
	if err != nil {
		return nil, fmt.Errorf("create board: %w", err)
	}

	err = s.queries.AddBoardMember(ctx, dbgen.AddBoardMemberParams{
		BoardID: boardID,
		UserID:  ownerID,
		Role:    dbgen.BoardRoleOwner,
	})
	if err != nil {
		return nil, fmt.Errorf("add owner as member: %w", err)
	}

	seed := document.NewBoard()
	if sample {
		seed = document.NewSampleBoard()
	}
	if err := s.Save(ctx, boardID, seed); err != nil {
		return nil, fmt.Errorf("create initial snapshot: %w", err)
	}

	return toBoard(dbBoard), nil
}

func (s *Service) Get(ctx context.Context, boardID, userID string) (*Board, error) {
	if _, err := s.Role(ctx, boardID, userID); err != nil {
		return nil, err
	}

	dbBoard, err := s.queries.GetBoard(ctx, boardID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get board: %w", err)
	}

	return toBoard(dbBoard), nil
}

func (s *Service) List(ctx context.Context, userID string) ([]Board, error) {
	dbBoards, err := s.queries.ListBoardsForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list boards: %w", err)
	}

	boards := make([]Board, len(dbBoards))
	for i, b := range dbBoards {
		boards[i] = *toBoard(b)
	}
	return boards, nil
}

func (s *Service) Delete(ctx context.Context, boardID, userID string) error {
	if err := s.requireOwner(ctx, boardID, userID); err != nil {
		return err
	}
	return s.queries.DeleteBoard(ctx, boardID)
}

// InviteByEmail adds a registered user as an editor.
func (s *Service) InviteByEmail(ctx context.Context, boardID, ownerID, inviteeEmail string) error {
	if err := s.requireOwner(ctx, boardID, ownerID); err != nil {
		return err
	}

	invitee, err := s.queries.GetUserByEmail(ctx, inviteeEmail)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrUserNotFound
		}
		return fmt.Errorf("find user: %w", err)
	}
	if invitee.ID == ownerID {
		return nil
	}

	return s.queries.AddBoardMember(ctx, dbgen.AddBoardMemberParams{
		BoardID: boardID,
		UserID:  invitee.ID,
		Role:    dbgen.BoardRoleEditor,
	})
}

func (s *Service) ListMembers(ctx context.Context, boardID, userID string) ([]Member, error) {
	if _, err := s.Role(ctx, boardID, userID); err != nil {
		return nil, err
	}

	rows, err := s.queries.ListBoardMembers(ctx, boardID)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}

	members := make([]Member, len(rows))
	for i, m := range rows {
		members[i] = Member{
			UserID:      m.UserID,
			Role:        string(m.Role),
			DisplayName: m.DisplayName,
			Email:       m.Email,
		}
	}
	return members, nil
}

func (s *Service) RemoveMember(ctx context.Context, boardID, ownerID, targetUserID string) error {
	if err := s.requireOwner(ctx, boardID, ownerID); err != nil {
		return err
	}
	if targetUserID == ownerID {
		return ErrOwnerRemoval
	}

	return s.queries.RemoveBoardMember(ctx, dbgen.RemoveBoardMemberParams{
		BoardID: boardID,
		UserID:  targetUserID,
	})
}

// GetLatestSnapshot returns the newest persisted board JSON.
func (s *Service) GetLatestSnapshot(ctx context.Context, boardID, userID string) (json.RawMessage, error) {
	if _, err := s.Role(ctx, boardID, userID); err != nil {
		return nil, err
	}

	snap, err := s.queries.GetLatestSnapshot(ctx, boardID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get snapshot: %w", err)
	}

	return snap.Document, nil
}

// Role returns userID's role on the board, or ErrNotMember.
func (s *Service) Role(ctx context.Context, boardID, userID string) (dbgen.BoardRole, error) {
	m, err := s.queries.GetBoardMember(ctx, dbgen.GetBoardMemberParams{
		BoardID: boardID,
		UserID:  userID,
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrNotMember
		}
		return "", fmt.Errorf("check membership: %w", err)
	}
	return m.Role, nil
}

func (s *Service) requireOwner(ctx context.Context, boardID, userID string) error {
	dbBoard, err := s.queries.GetBoard(ctx, boardID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("get board: %w", err)
	}
	if dbBoard.OwnerID != userID {
		return ErrForbidden
	}
	return nil
}

// Load reads the latest snapshot for the collaboration hub. A board with
// no snapshot loads as nil.
func (s *Service) Load(ctx context.Context, boardID string) (*document.Board, error) {
	snap, err := s.queries.GetLatestSnapshot(ctx, boardID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			if _, err := s.queries.GetBoard(ctx, boardID); err != nil {
				if errors.Is(err, pgx.ErrNoRows) {
					return nil, ErrNotFound
				}
				return nil, fmt.Errorf("get board: %w", err)
			}
			return nil, nil
		}
		return nil, fmt.Errorf("get snapshot: %w", err)
	}
	return document.ParseBoard(snap.Document)
}

// Save writes the board as the next snapshot version.
func (s *Service) Save(ctx context.Context, boardID string, b *document.Board) error {
	data, err := document.MarshalBoard(b)
	if err != nil {
		return err
	}

	next := int32(1)
	current, err := s.queries.GetLatestSnapshot(ctx, boardID)
	switch {
	case err == nil:
		next = current.Version + 1
	case !errors.Is(err, pgx.ErrNoRows):
		return fmt.Errorf("get snapshot: %w", err)
	}

	_, err = s.queries.CreateSnapshot(ctx, dbgen.CreateSnapshotParams{
		ID:       typeid.NewSnapshotID(),
		BoardID:  boardID,
		Version:  next,
		Document: data,
	})
	if err != nil {
		return fmt.Errorf("create snapshot: %w", err)
	}
	if err := s.queries.TouchBoard(ctx, boardID); err != nil {
		s.logger.Warn("touch board failed", "board", boardID, "error", err)
	}
	s.logger.Debug("board saved", "board", boardID, "version", next, "elements", len(b.Elements))
	return nil
}

func toBoard(b dbgen.Board) *Board {
	return &Board{
		ID:        b.ID,
		Name:      b.Name,
		OwnerID:   b.OwnerID,
		CreatedAt: b.CreatedAt.Time.UTC().Format(time.RFC3339),
		UpdatedAt: b.UpdatedAt.Time.UTC().Format(time.RFC3339),
	}
}
