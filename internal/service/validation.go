package service

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"time"

	"storefront/internal/models"

	"github.com/go-playground/validator/v10"
)

const expDateLayout = "2006-01-02"

var (
	kenyanPhone = regexp.MustCompile(`^(07\d{8}|\+2547\d{8})$`)
	whitespace  = regexp.MustCompile(`\s+`)
	digitsOnly  = regexp.MustCompile(`^\d+$`)
)

var allowedEmailDomains = map[string]struct{}{
	"gmail.com":      {},
	"yahoo.com":      {},
	"yahoo.co.uk":    {},
	"outlook.com":    {},
	"hotmail.com":    {},
	"live.com":       {},
	"icloud.com":     {},
	"me.com":         {},
	"protonmail.com": {},
	"aol.com":        {},
}

const (
	msgEmailDomain = "Please use an email from a major provider (e.g. Gmail, Outlook, Yahoo, iCloud)."
	msgPhone       = "Phone must be a valid Kenyan number: 0712345678 or +254712345678"
	msgCVVRequired = "CVV is required for card payments."
	msgCVVDigits   = "CVV must contain only digits."
	msgCVVLength   = "CVV must be 3 or 4 digits."
	msgRequired    = "This field is required."
)

var validate = newValidate()

func newValidate() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("kephone", func(fl validator.FieldLevel) bool {
		return ValidKenyanPhone(fl.Field().String())
	})
	_ = v.RegisterValidation("maildomain", func(fl validator.FieldLevel) bool {
		return AllowedEmailDomain(fl.Field().String())
	})
	return v
}

// NormalizePhone strips all whitespace from a phone number
func NormalizePhone(phone string) string {
	return whitespace.ReplaceAllString(phone, "")
}

// ValidKenyanPhone accepts 07XXXXXXXX or +2547XXXXXXXX once whitespace is removed
func ValidKenyanPhone(phone string) bool {
	return kenyanPhone.MatchString(NormalizePhone(phone))
}

// AllowedEmailDomain reports whether the address is hosted by a major provider
func AllowedEmailDomain(email string) bool {
	at := strings.LastIndex(email, "@")
	if at < 0 {
		return false
	}
	_, ok := allowedEmailDomains[strings.ToLower(email[at+1:])]
	return ok
}

// ContactInput is the contact block of the checkout form
type ContactInput struct {
	FullName string `json:"full_name" validate:"required,max=100"`
	Email    string `json:"email" validate:"required,email,maildomain"`
	Phone    string `json:"phone" validate:"required,kephone"`
}

// Normalize trims names, lower-cases the email and strips phone whitespace
func (c *ContactInput) Normalize() {
	c.FullName = strings.TrimSpace(c.FullName)
	c.Email = strings.ToLower(strings.TrimSpace(c.Email))
	c.Phone = NormalizePhone(c.Phone)
}

// AddressInput is a shipping or billing address form
type AddressInput struct {
	FirstName string `json:"first_name" validate:"required,max=100"`
	LastName  string `json:"last_name" validate:"required,max=100"`
	Street    string `json:"street" validate:"required,max=255"`
	City      string `json:"city" validate:"required,max=100"`
	ZipCode   string `json:"zip_code" validate:"max=20"`
}

// ToModel builds an unsaved address with no owner
func (a *AddressInput) ToModel() *models.Address {
	return &models.Address{
		FirstName: strings.TrimSpace(a.FirstName),
		LastName:  strings.TrimSpace(a.LastName),
		Street:    strings.TrimSpace(a.Street),
		City:      strings.TrimSpace(a.City),
		ZipCode:   strings.TrimSpace(a.ZipCode),
	}
}

// PaymentInput is the payment form. CVV is checked and then dropped.
type PaymentInput struct {
	PaymentType string `json:"payment_type" validate:"required,oneof=card mpesa"`
	CardNum     string `json:"card_num" validate:"omitempty,numeric,min=12,max=19"`
	ExpDate     string `json:"exp_date" validate:"omitempty,datetime=2006-01-02"`
	HolderName  string `json:"holder_name" validate:"max=100"`
	CardType    string `json:"card_type" validate:"max=20"`
	MpesaPhone  string `json:"mpesa_phone" validate:"omitempty,kephone"`
	CVV         string `json:"cvv"`
}

// ToModel builds an unsaved payment method. The CVV is not carried over.
func (p *PaymentInput) ToModel() *models.PaymentMethod {
	pm := &models.PaymentMethod{
		PaymentType: p.PaymentType,
		HolderName:  strings.TrimSpace(p.HolderName),
		CardType:    strings.TrimSpace(p.CardType),
	}
	switch p.PaymentType {
	case models.PaymentTypeCard:
		pm.CardNum = strings.TrimSpace(p.CardNum)
		if exp, err := time.Parse(expDateLayout, strings.TrimSpace(p.ExpDate)); err == nil {
			pm.ExpDate = &exp
		}
	case models.PaymentTypeMpesa:
		pm.MpesaPhone = NormalizePhone(p.MpesaPhone)
	}
	return pm
}

// ValidateContact checks the contact block. Call Normalize first.
func ValidateContact(c *ContactInput) []Problem {
	return problemsFrom(SectionContact, validate.Struct(c), ErrContactInvalid)
}

// ValidateAddress checks a new address form for the given section
func ValidateAddress(section string, a *AddressInput) []Problem {
	trimmed := *a
	trimmed.FirstName = strings.TrimSpace(a.FirstName)
	trimmed.LastName = strings.TrimSpace(a.LastName)
	trimmed.Street = strings.TrimSpace(a.Street)
	trimmed.City = strings.TrimSpace(a.City)
	return problemsFrom(section, validate.Struct(&trimmed), ErrAddressInvalid)
}

// ValidatePayment checks a new payment form including the type-specific
// fields and the transient CVV.
func ValidatePayment(p *PaymentInput, now time.Time) []Problem {
	p.PaymentType = strings.ToLower(strings.TrimSpace(p.PaymentType))
	p.CardNum = whitespace.ReplaceAllString(p.CardNum, "")
	p.MpesaPhone = NormalizePhone(p.MpesaPhone)

	problems := problemsFrom(SectionPayment, validate.Struct(p), ErrPaymentInvalid)
	required := func(field, value string) {
		if strings.TrimSpace(value) == "" {
			problems = append(problems, Problem{Section: SectionPayment, Field: field, Message: msgRequired, Code: ErrPaymentInvalid})
		}
	}

	switch p.PaymentType {
	case models.PaymentTypeCard:
		required("card_num", p.CardNum)
		required("exp_date", p.ExpDate)
		required("holder_name", p.HolderName)
		if exp, err := time.Parse(expDateLayout, strings.TrimSpace(p.ExpDate)); err == nil && exp.Before(now.Truncate(24*time.Hour)) {
			problems = append(problems, Problem{Section: SectionPayment, Field: "exp_date", Message: "Card has expired.", Code: ErrPaymentInvalid})
		}
		if msg := cvvProblem(p.CVV); msg != "" {
			problems = append(problems, Problem{Section: SectionPayment, Field: "cvv", Message: msg, Code: ErrPaymentInvalid})
		}
	case models.PaymentTypeMpesa:
		required("mpesa_phone", p.MpesaPhone)
	}
	return problems
}

func cvvProblem(cvv string) string {
	cvv = strings.TrimSpace(cvv)
	switch {
	case cvv == "":
		return msgCVVRequired
	case !digitsOnly.MatchString(cvv):
		return msgCVVDigits
	case len(cvv) != 3 && len(cvv) != 4:
		return msgCVVLength
	}
	return ""
}

func problemsFrom(section string, err error, code error) []Problem {
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []Problem{{Section: section, Message: err.Error(), Code: code}}
	}
	problems := make([]Problem, 0, len(verrs))
	for _, fe := range verrs {
		problems = append(problems, Problem{
			Section: section,
			Field:   fe.Field(),
			Message: messageFor(fe),
			Code:    code,
		})
	}
	return problems
}

func messageFor(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return msgRequired
	case "email":
		return "Enter a valid email address."
	case "maildomain":
		return msgEmailDomain
	case "kephone":
		return msgPhone
	case "max":
		return fmt.Sprintf("Ensure this value has at most %s characters.", fe.Param())
	case "min":
		return fmt.Sprintf("Ensure this value has at least %s characters.", fe.Param())
	case "numeric":
		return "Enter digits only."
	case "oneof":
		return fmt.Sprintf("Select one of: %s.", strings.ReplaceAll(fe.Param(), " ", ", "))
	case "datetime":
		return "Enter a valid date (YYYY-MM-DD)."
	}
	return "Invalid value."
}
