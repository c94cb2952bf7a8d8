package database

import (
	"errors"
	"fmt"
	"regexp"

	"gorm.io/gorm"
)

// CreateTemplate creates a new named rule template
func (db *DB) CreateTemplate(name, description string) (*Template, error) {
	if name == "" {
		return nil, fmt.Errorf("template name is required")
	}

	tmpl := &Template{
		Name:        name,
		Description: description,
	}
	if err := db.Create(tmpl).Error; err != nil {
		return nil, fmt.Errorf("failed to create template: %w", err)
	}
	return tmpl, nil
}

// GetTemplateByID retrieves a template with its rules in evaluation order.
// Returns (nil, nil) when absent.
func (db *DB) GetTemplateByID(id uint) (*Template, error) {
	var tmpl Template
	err := db.Preload("Rules", func(tx *gorm.DB) *gorm.DB {
		return tx.Order("sort_order ASC, id ASC")
	}).First(&tmpl, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get template: %w", err)
	}
	return &tmpl, nil
}

// GetTemplateByName retrieves a template by its unique app name.
// Returns (nil, nil) when absent.
func (db *DB) GetTemplateByName(name string) (*Template, error) {
	var tmpl Template
	err := db.Preload("Rules", func(tx *gorm.DB) *gorm.DB {
		return tx.Order("sort_order ASC, id ASC")
	}).Where("name = ?", name).First(&tmpl).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get template: %w", err)
	}
	return &tmpl, nil
}

// ListTemplates returns all templates with their rules
func (db *DB) ListTemplates() ([]Template, error) {
	var templates []Template
	err := db.Preload("Rules", func(tx *gorm.DB) *gorm.DB {
		return tx.Order("sort_order ASC, id ASC")
	}).Order("name ASC").Find(&templates).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list templates: %w", err)
	}
	return templates, nil
}

// DeleteTemplate removes a template and its rules. Card-links referencing it
// keep their denormalized AppName and fall back to unfiltered resolution.
func (db *DB) DeleteTemplate(id uint) error {
	return db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("template_id = ?", id).Delete(&Rule{}).Error; err != nil {
			return fmt.Errorf("failed to delete template rules: %w", err)
		}
		result := tx.Delete(&Template{}, id)
		if result.Error != nil {
			return fmt.Errorf("failed to delete template: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return fmt.Errorf("no template found: %d", id)
		}
		return nil
	})
}

// CreateRule validates and stores one rule for a template. Validation is
// eager so the evaluation path never sees a pattern that fails to compile:
//   - regex mode accepts include or exclude type and stores the pattern
//     verbatim after a compile check
//   - the simple modes fix their type and store the literal pattern escaped,
//     so metacharacters in user input match literally
func (db *DB) CreateRule(templateID uint, ruleType, mode, pattern, description string, order int) (*Rule, error) {
	if pattern == "" {
		return nil, fmt.Errorf("%w: pattern is required", ErrInvalidRule)
	}

	switch mode {
	case RuleModeRegex:
		if ruleType != RuleTypeInclude && ruleType != RuleTypeExclude {
			return nil, fmt.Errorf("%w: regex rule type must be include or exclude, got %q", ErrInvalidRule, ruleType)
		}
		if _, err := regexp.Compile(pattern); err != nil {
			return nil, fmt.Errorf("%w: malformed regex %q: %v", ErrInvalidRule, pattern, err)
		}
	case RuleModeSimpleInclude:
		if ruleType != RuleTypeInclude {
			return nil, fmt.Errorf("%w: simple_include rule must have type include, got %q", ErrInvalidRule, ruleType)
		}
		pattern = regexp.QuoteMeta(pattern)
	case RuleModeSimpleExclude:
		if ruleType != RuleTypeExclude {
			return nil, fmt.Errorf("%w: simple_exclude rule must have type exclude, got %q", ErrInvalidRule, ruleType)
		}
		pattern = regexp.QuoteMeta(pattern)
	default:
		return nil, fmt.Errorf("%w: unknown rule mode %q", ErrInvalidRule, mode)
	}

	tmpl, err := db.GetTemplateByID(templateID)
	if err != nil {
		return nil, err
	}
	if tmpl == nil {
		return nil, fmt.Errorf("template %d not found", templateID)
	}

	rule := &Rule{
		TemplateID:  templateID,
		Type:        ruleType,
		Mode:        mode,
		Pattern:     pattern,
		Description: description,
		Order:       order,
		Active:      true,
	}
	if err := db.Create(rule).Error; err != nil {
		return nil, fmt.Errorf("failed to create rule: %w", err)
	}
	return rule, nil
}

// SetRuleActive toggles a rule without deleting it
func (db *DB) SetRuleActive(ruleID uint, active bool) error {
	result := db.Model(&Rule{}).Where("id = ?", ruleID).Update("active", active)
	if result.Error != nil {
		return fmt.Errorf("failed to update rule: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("no rule found: %d", ruleID)
	}
	return nil
}

// DeleteRule removes a single rule
func (db *DB) DeleteRule(ruleID uint) error {
	result := db.Delete(&Rule{}, ruleID)
	if result.Error != nil {
		return fmt.Errorf("failed to delete rule: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("no rule found: %d", ruleID)
	}
	return nil
}
