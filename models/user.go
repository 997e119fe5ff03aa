package models

import (
	"context"
	"errors"
	"fmt"
	"html"
	"os"
	"strconv"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/cyclecount_backend/config"
	"bitbucket.org/mmdatafocus/cyclecount_backend/utils"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

type User struct {
	ID         int       `gorm:"primary_key" json:"id"`
	BusinessId string    `gorm:"index" json:"business_id"`
	Username   string    `gorm:"size:100;not null;unique" json:"username" binding:"required"`
	Name       string    `gorm:"size:100;not null" json:"name" binding:"required"`
	Email      *string   `gorm:"size:100;unique" json:"email"`
	Phone      string    `gorm:"size:20" json:"phone"`
	ImageUrl   string    `json:"image_url"`
	Password   string    `gorm:"size:255;not null" json:"password"`
	IsActive   *bool     `gorm:"not null" json:"is_active"`
	RoleId     int       `gorm:"not null;default:0" json:"role_id" binding:"required"`
	Role       Role      `gorm:"foreignKey:RoleId" json:"role"`
	// Counter profile used by dispatch eligibility. Zones is a
	// semicolon-separated list; empty means all zones. Shift bounds are
	// "HH:MM" in the business timezone; empty means any time.
	Zones      string    `gorm:"size:255" json:"zones"`
	ShiftStart string    `gorm:"size:5" json:"shift_start"`
	ShiftEnd   string    `gorm:"size:5" json:"shift_end"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewUser struct {
	BusinessId string `json:"business_id"`
	Username   string `json:"username" binding:"required"`
	Name       string `json:"name" binding:"required"`
	Email      string `json:"email"`
	Phone      string `json:"phone"`
	ImageUrl   string `json:"image_url"`
	Password   string `json:"password" binding:"required"`
	IsActive   *bool  `json:"is_active"`
	RoleId     int    `json:"role_id" binding:"required"`
	Zones      string `json:"zones"`
	ShiftStart string `json:"shift_start"`
	ShiftEnd   string `json:"shift_end"`
}

/*
caches:
	User:$username
*/

func (user User) RemoveInstanceRedis() error {
	return config.RemoveRedisKey("User:" + user.Username)
}

func (result *User) PrepareGive() {
	result.Password = ""
}

type LoginInfo struct {
	Token        string       `json:"token"`
	Name         string       `json:"name"`
	Role         string       `json:"role"`
	RoleTier     ApprovalTier `json:"role_tier"`
	BusinessName string       `json:"business_name"`
	Timezone     string       `json:"timezone"`
}

func (input NewUser) validate(ctx context.Context, businessId string) error {
	if input.Email != "" && !utils.IsValidEmail(input.Email) {
		return errors.New("invalid email")
	}
	if input.Phone != "" {
		business, err := GetBusinessById(ctx, businessId)
		if err != nil {
			return err
		}
		if err := utils.ValidatePhoneNumber(input.Phone, business.Country); err != nil {
			return err
		}
	}
	if err := utils.ValidateResourceId[Role](ctx, businessId, input.RoleId); err != nil {
		return errors.New("role not found")
	}
	return nil
}

func CreateUser(ctx context.Context, input NewUser) (*User, error) {
	businessId := input.BusinessId
	if businessId == "" {
		var ok bool
		businessId, ok = utils.GetBusinessIdFromContext(ctx)
		if !ok {
			return nil, errors.New("business id is required")
		}
	}
	if err := input.validate(ctx, businessId); err != nil {
		return nil, err
	}

	hashed, err := utils.HashPassword(input.Password)
	if err != nil {
		return nil, err
	}

	user := User{
		BusinessId: businessId,
		Username:   html.EscapeString(strings.TrimSpace(input.Username)),
		Name:       input.Name,
		Phone:      input.Phone,
		ImageUrl:   input.ImageUrl,
		Password:   string(hashed),
		IsActive:   input.IsActive,
		RoleId:     input.RoleId,
		Zones:      input.Zones,
		ShiftStart: input.ShiftStart,
		ShiftEnd:   input.ShiftEnd,
	}
	if input.Email != "" {
		user.Email = &input.Email
	}
	if user.IsActive == nil {
		user.IsActive = utils.NewTrue()
	}

	db := config.GetDB()
	if err := db.WithContext(ctx).Create(&user).Error; err != nil {
		return nil, err
	}
	user.PrepareGive()
	return &user, nil
}

func tokenLifespan() time.Duration {
	hours, err := strconv.Atoi(os.Getenv("TOKEN_HOUR_LIFESPAN"))
	if err != nil || hours <= 0 {
		hours = 24
	}
	return time.Duration(hours) * time.Hour
}

func Login(ctx context.Context, username string, password string) (*LoginInfo, error) {
	db := config.GetDB()
	var result LoginInfo

	user := User{}
	exists, err := config.GetRedisObject("User:"+username, &user)
	if err != nil {
		return &result, err
	}
	if !exists {
		err = db.WithContext(ctx).Model(&User{}).Preload("Role").Where("username = ?", username).Take(&user).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return &result, errors.New("user not found")
			}
			return &result, err
		}
		_ = config.SetRedisObject("User:"+username, &user, 0)
	}

	if user.IsActive == nil || !*user.IsActive {
		// The cached record may be stale; drop it so a reactivated user is
		// not locked out until the cache expires.
		_ = user.RemoveInstanceRedis()
		return &result, errors.New("user is inactive")
	}

	err = utils.ComparePassword(user.Password, password)
	if err != nil && errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		return &result, errors.New("incorrect password")
	} else if err != nil {
		return &result, err
	}

	if user.Role.ID == 0 && user.RoleId != 0 {
		if err := db.WithContext(ctx).Where("id = ?", user.RoleId).First(&user.Role).Error; err != nil {
			return &result, err
		}
	}

	token, err := utils.JwtGenerate(user.ID, user.BusinessId, user.Role.Name, int(user.Role.Tier))
	if err != nil {
		return &result, err
	}

	business, err := GetBusinessById(ctx, user.BusinessId)
	if err != nil {
		return &result, err
	}

	// session tokens per user, bounded by TOKEN_HOUR_LIFESPAN on the JWT side
	if err := config.SetRedisValue("Token:"+token, fmt.Sprint(user.ID), tokenLifespan()); err != nil {
		return &result, err
	}

	result = LoginInfo{
		Token:        token,
		Name:         user.Name,
		Role:         user.Role.Name,
		RoleTier:     user.Role.Tier,
		BusinessName: business.Name,
		Timezone:     business.Timezone,
	}
	return &result, nil
}

// Logout destroys the current session token.
func Logout(ctx context.Context) (bool, error) {
	token, ok := utils.GetTokenFromContext(ctx)
	if !ok || token == "" {
		return false, errors.New("token is required")
	}
	if err := config.RemoveRedisKey("Token:" + token); err != nil {
		return false, err
	}
	return true, nil
}

// GetUserById is business scoped; admin seeding bypasses it with direct DB access.
func GetUserById(ctx context.Context, businessId string, id int) (*User, error) {
	user, err := utils.FetchModel[User](ctx, businessId, id, "Role")
	if err != nil {
		return nil, err
	}
	user.PrepareGive()
	return user, nil
}
