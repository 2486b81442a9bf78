package user

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	myMiddleware "pantry/internal/middleware"
)

const issuer = "pantry"

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidInput       = errors.New("username and password are required")
)

type Service struct {
	repo      Store
	jwtSecret string
	tokenTTL  time.Duration
}

type PantryClaims struct {
	UserID   string `json:"uid"`
	Username string `json:"username"`
	HomeID   string `json:"home_id"`
	jwt.RegisteredClaims
}

func NewService(repo Store, secret string, tokenTTL time.Duration) *Service {
	return &Service{
		repo:      repo,
		jwtSecret: secret,
		tokenTTL:  tokenTTL,
	}
}

// Register creates a household and its first member.
func (s *Service) Register(ctx context.Context, req *RegisterRequest) (*RegisterResponse, error) {
	username := strings.TrimSpace(req.Username)
	if username == "" || req.Password == "" {
		return nil, ErrInvalidInput
	}

	hashedPwd, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	homeName := strings.TrimSpace(req.HomeName)
	if homeName == "" {
		homeName = username + "'s home"
	}

	home := &Home{ID: uuid.NewString(), Name: homeName}
	u := &User{
		ID:       uuid.NewString(),
		HomeID:   home.ID,
		Username: username,
		Password: string(hashedPwd),
	}

	if err := s.repo.CreateHomeWithUser(ctx, home, u); err != nil {
		return nil, err
	}

	return &RegisterResponse{ID: u.ID, Username: u.Username, HomeID: home.ID}, nil
}

func (s *Service) Login(ctx context.Context, req *LoginRequest) (*LoginResponse, error) {
	u, err := s.repo.GetUserByUsername(ctx, req.Username)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(u.Password), []byte(req.Password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	ss, err := s.IssueToken(u)
	if err != nil {
		return nil, err
	}

	return &LoginResponse{
		AccessToken: ss,
		ID:          u.ID,
		Username:    u.Username,
		HomeID:      u.HomeID,
	}, nil
}

// Household describes the caller's household and who belongs to it.
func (s *Service) Household(ctx context.Context, homeID string) (*HouseholdResponse, error) {
	home, err := s.repo.GetHome(ctx, homeID)
	if err != nil {
		return nil, err
	}
	members, err := s.repo.ListMembers(ctx, homeID)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	return &HouseholdResponse{ID: home.ID, Name: home.Name, CreatedAt: home.CreatedAt, Members: members}, nil
}

// IssueToken signs an HS256 token carrying the user and household ids.
func (s *Service) IssueToken(u *User) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, PantryClaims{
		UserID:   u.ID,
		Username: u.Username,
		HomeID:   u.HomeID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   u.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.tokenTTL)),
		},
	})

	return token.SignedString([]byte(s.jwtSecret))
}

// ValidateToken implements myMiddleware.TokenValidator.
func (s *Service) ValidateToken(tokenString string) (*myMiddleware.Claims, error) {
	claims := &PantryClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return []byte(s.jwtSecret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithIssuer(issuer))
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}
	if !token.Valid || claims.UserID == "" || claims.HomeID == "" {
		return nil, ErrInvalidCredentials
	}

	return &myMiddleware.Claims{
		UserID:   claims.UserID,
		Username: claims.Username,
		HomeID:   claims.HomeID,
	}, nil
}
