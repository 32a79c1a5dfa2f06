// Package domain defines the persistence models for users, items, lending
// requests and their messages. These types are mapped with GORM and form the
// core data layer of the lending backend.
package domain

import (
	"encoding/json"
	"time"
)

// User is a marketplace participant. Users are created once by the identity
// hook and are never deleted.
//
// Fields:
//   - ID: caller identity (opaque string supplied by the auth layer).
//   - ProviderID: identifier at the external identity provider, if any.
//   - Name / Photo: seeded from the identity provider profile.
//   - Genre / Course: free-form profile attributes.
//   - Lat / Lng: optional geo-point used for proximity ordering.
//   - RequestsLimit: remaining request allowance (quota).
//   - Has / HasNot: items the user holds, and items the user declined to lend.
type User struct {
	ID            string    `json:"id"             gorm:"type:varchar(64);primaryKey"`
	ProviderID    string    `json:"provider_id,omitempty" gorm:"type:varchar(64);index"`
	Name          string    `json:"name"           gorm:"type:varchar(255);not null;default:''"`
	Photo         string    `json:"photo,omitempty" gorm:"type:varchar(512)"`
	Genre         string    `json:"genre,omitempty" gorm:"type:varchar(32)"`
	Course        string    `json:"course,omitempty" gorm:"type:varchar(128)"`
	Lat           *float64  `json:"lat,omitempty"`
	Lng           *float64  `json:"lng,omitempty"`
	RequestsLimit int       `json:"requests_limit" gorm:"not null"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`

	Has    []Item `json:"has,omitempty"     gorm:"many2many:user_has_items;constraint:OnDelete:CASCADE"`
	HasNot []Item `json:"has_not,omitempty" gorm:"many2many:user_has_not_items;constraint:OnDelete:CASCADE"`
}

// TableName returns the database table name for User.
func (User) TableName() string { return "users" }

// HasLocation reports whether both coordinates are set.
func (u *User) HasLocation() bool { return u != nil && u.Lat != nil && u.Lng != nil }

// PublicUser is what other users get to see of a user. Location, provider
// identity and quota stay private.
type PublicUser struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Photo  string `json:"photo,omitempty"`
	Genre  string `json:"genre,omitempty"`
	Course string `json:"course,omitempty"`
}

// Public returns the public view of u, or nil when u is nil.
func (u *User) Public() *PublicUser {
	if u == nil {
		return nil
	}
	return &PublicUser{ID: u.ID, Name: u.Name, Photo: u.Photo, Genre: u.Genre, Course: u.Course}
}

// Item is a canonical catalog entry. NameLowercase carries a unique index so
// concurrent find-or-create calls converge on a single row.
type Item struct {
	ID            string    `json:"id"   gorm:"type:char(36);primaryKey"`
	Name          string    `json:"name" gorm:"type:varchar(255);not null"`
	NameLowercase string    `json:"-"    gorm:"type:varchar(255);not null;uniqueIndex:ux_items_name_lower"`
	CreatedAt     time.Time `json:"created_at"`
}

// TableName returns the database table name for Item.
func (Item) TableName() string { return "items" }

// Request is the aggregate root of the lending flow: an author asks for an
// item and, eventually, a helper commits to lending it.
//
// Fields:
//   - State: lifecycle stage (see RequestState).
//   - Version: bumped on every state change; writers commit conditionally on it.
//   - Successful: outcome recorded on close (nil until closed).
//   - Author / Item / Helper: associations, preloaded on reads.
type Request struct {
	ID         string       `json:"id"          gorm:"type:char(36);primaryKey"`
	AuthorID   string       `json:"author_id"   gorm:"type:varchar(64);not null;index:idx_requests_author"`
	ItemID     string       `json:"item_id"     gorm:"type:char(36);not null;index"`
	HelperID   *string      `json:"helper_id,omitempty" gorm:"type:varchar(64);index:idx_requests_helper"`
	State      RequestState `json:"state"       gorm:"type:varchar(16);not null;default:'open';index:idx_requests_state_created,priority:1;check:state IN ('open','dealing','closed','expired')"`
	Version    int64        `json:"version"     gorm:"not null;default:1"`
	Successful *bool        `json:"successful,omitempty"`
	ClosedAt   *time.Time   `json:"closed_at,omitempty"`
	CreatedAt  time.Time    `json:"created_at"  gorm:"index:idx_requests_state_created,priority:2"`
	UpdatedAt  time.Time    `json:"updated_at"`

	Author *User `json:"author,omitempty" gorm:"foreignKey:AuthorID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:RESTRICT"`
	Item   *Item `json:"item,omitempty"   gorm:"foreignKey:ItemID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:RESTRICT"`
	Helper *User `json:"helper,omitempty" gorm:"foreignKey:HelperID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:SET NULL"`
}

// TableName returns the database table name for Request.
func (Request) TableName() string { return "requests" }

// MarshalJSON renders the author and helper through their public views, so a
// request can be shown to any caller.
func (r Request) MarshalJSON() ([]byte, error) {
	type plain Request
	return json.Marshal(struct {
		plain
		Author *PublicUser `json:"author,omitempty"`
		Helper *PublicUser `json:"helper,omitempty"`
	}{plain(r), r.Author.Public(), r.Helper.Public()})
}

// IsParticipant reports whether userID is the author or the assigned helper.
func (r *Request) IsParticipant(userID string) bool {
	if r == nil || userID == "" {
		return false
	}
	if r.AuthorID == userID {
		return true
	}
	return r.HelperID != nil && *r.HelperID == userID
}

// Message is a single note exchanged between a request's author and helper.
// Messages are immutable once created.
type Message struct {
	ID        string    `json:"id"         gorm:"type:char(36);primaryKey"`
	RequestID string    `json:"request_id" gorm:"type:char(36);not null;index:idx_request_msgs,priority:1"`
	FromID    string    `json:"from"       gorm:"type:varchar(64);not null"`
	Content   string    `json:"content"    gorm:"type:text;not null"`
	CreatedAt time.Time `json:"created_at" gorm:"index:idx_request_msgs,priority:2"`
	UpdatedAt time.Time `json:"updated_at"`

	Request Request `json:"-" gorm:"foreignKey:RequestID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for Message.
func (Message) TableName() string { return "messages" }
