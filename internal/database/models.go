package database

import (
	"time"
)

// User represents an account that receives messages and owns card-links
type User struct {
	ID                 uint         `gorm:"primaryKey;autoIncrement"`
	Username           string       `gorm:"uniqueIndex;not null"`
	PasswordHash       string       `gorm:"not null"`
	WebhookKey         string       `gorm:"uniqueIndex;not null"`
	IsAdmin            bool         `gorm:"not null;default:false"`
	CanManageTemplates bool         `gorm:"not null;default:false"`
	ShowFooter         bool         `gorm:"not null;default:true"`
	ShowAds            bool         `gorm:"not null;default:true"`
	CardLinkTags       []string     `gorm:"serializer:json"`
	CreatedAt          time.Time    `gorm:"not null;autoCreateTime"`
	UpdatedAt          time.Time    `gorm:"not null;autoUpdateTime"`
	Emails             []BoundEmail `gorm:"foreignKey:Username;references:Username"`
}

// BoundEmail is an inbound email address bound to a user. Mail delivered to
// this address is ingested as a message for the owning user.
type BoundEmail struct {
	ID       uint   `gorm:"primaryKey;autoIncrement"`
	Username string `gorm:"not null;index"`
	Email    string `gorm:"uniqueIndex;not null"`
}

// Message source types
const (
	SourceSMS   = "SMS"
	SourceEmail = "EMAIL"
)

// Message is an ingested SMS or email body. Messages are append-only;
// SystemReceivedAt is the trusted server-side ingestion time and is the only
// timestamp selection logic may order by. SmsReceivedAt is whatever the
// upstream sender claimed and is display-only.
type Message struct {
	ID               uint   `gorm:"primaryKey;autoIncrement"`
	Username         string `gorm:"not null;index:idx_messages_user_received,priority:1"`
	SmsContent       string `gorm:"type:text;not null"`
	SourceType       string `gorm:"not null;default:'SMS'"`
	Sender           string `gorm:"index"`
	SmsReceivedAt    time.Time
	SystemReceivedAt time.Time `gorm:"not null;index:idx_messages_user_received,priority:2"`
}

// CardLink is a single access token granting scoped retrieval of one resolved
// message. CardKey is the sole lookup identity; AppName and Phone are
// descriptive attributes fixed at creation. FirstUsedAt and MessageID are
// each written exactly once, via conditional updates (see cardlinks.go).
type CardLink struct {
	ID          uint   `gorm:"primaryKey;autoIncrement"`
	CardKey     string `gorm:"uniqueIndex;not null"`
	Username    string `gorm:"not null;index"`
	AppName     string
	Phone       string
	Tags        []string `gorm:"serializer:json"`
	FirstUsedAt *time.Time
	TemplateID  *uint
	MessageID   *uint
	ExpiryDays  *int
	CreatedAt   time.Time `gorm:"not null;autoCreateTime"`
}

// Template is a named, ordered set of filter rules for one application
type Template struct {
	ID          uint   `gorm:"primaryKey;autoIncrement"`
	Name        string `gorm:"uniqueIndex;not null"`
	Description string
	CreatedAt   time.Time `gorm:"not null;autoCreateTime"`
	UpdatedAt   time.Time `gorm:"not null;autoUpdateTime"`
	Rules       []Rule    `gorm:"foreignKey:TemplateID;constraint:OnDelete:CASCADE"`
}

// Rule types and modes
const (
	RuleTypeInclude = "include"
	RuleTypeExclude = "exclude"

	RuleModeRegex         = "regex"
	RuleModeSimpleInclude = "simple_include"
	RuleModeSimpleExclude = "simple_exclude"
)

// Rule is one pattern filter inside a template. For the simple modes the
// stored pattern is already literal-escaped (see CreateRule); regex mode
// stores the pattern verbatim, validated at creation.
type Rule struct {
	ID          uint   `gorm:"primaryKey;autoIncrement"`
	TemplateID  uint   `gorm:"not null;index"`
	Type        string `gorm:"not null"`
	Mode        string `gorm:"not null"`
	Pattern     string `gorm:"not null"`
	Description string
	Order       int  `gorm:"column:sort_order;not null;default:0"`
	Active      bool `gorm:"not null;default:true"`
}

// PushEndpoint is a user-registered callback URL. Newly ingested messages
// are forwarded there by the ingest processor.
type PushEndpoint struct {
	ID          uint   `gorm:"primaryKey;autoIncrement"`
	Username    string `gorm:"not null;index"`
	URL         string `gorm:"not null"`
	Description string
	Headers     map[string]string `gorm:"serializer:json"`
	IsActive    bool              `gorm:"not null;default:true"`
	CreatedAt   time.Time         `gorm:"not null;autoCreateTime"`
	UpdatedAt   time.Time         `gorm:"not null;autoUpdateTime"`
}

// DeliveryLog records one forwarding attempt for an ingested message
type DeliveryLog struct {
	ID           uint   `gorm:"primaryKey;autoIncrement"`
	EndpointID   uint   `gorm:"not null;index"`
	Username     string `gorm:"not null"`
	MessageID    uint   `gorm:"not null"`
	Status       string `gorm:"not null"`
	ErrorMessage string
	AttemptedAt  time.Time `gorm:"not null;autoCreateTime"`
}
