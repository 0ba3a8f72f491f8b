package model

import "time"

type ConversationContext string

const (
	ContextVerification         ConversationContext = "verification"
	ContextReminderConfirmation ConversationContext = "reminder_confirmation"
	ContextGeneralInquiry       ConversationContext = "general_inquiry"
	ContextEmergency            ConversationContext = "emergency"
)

type ExpectedResponse string

const (
	ExpectYesNo        ExpectedResponse = "yes_no"
	ExpectConfirmation ExpectedResponse = "confirmation"
	ExpectText         ExpectedResponse = "text"
	ExpectNone         ExpectedResponse = "none"
)

type Direction string

const (
	Inbound  Direction = "inbound"
	Outbound Direction = "outbound"
)

// ConversationState holds the conversational topic a patient's next reply is expected to answer.
// At most one state per patient is active.
type ConversationState struct {
	ID                   string
	PatientID            string
	CurrentContext       ConversationContext
	ExpectedResponseType ExpectedResponse
	RelatedEntityID      *string
	RelatedEntityType    *string
	IsActive             bool
	MessageCount         int
	UnknownStreak        int
	ExpiresAt            time.Time
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// Live reports whether the state is active and not past its expiry.
func (s *ConversationState) Live(now time.Time) bool {
	return s != nil && s.IsActive && now.Before(s.ExpiresAt)
}

// ConversationMessage is an append-only turn. Only ProcessedAt is ever updated.
type ConversationMessage struct {
	ID                string
	StateID           string
	PatientID         string
	Direction         Direction
	MessageType       string
	Content           string
	Intent            *string
	Confidence        *int
	ProviderMessageID *string
	CreatedAt         time.Time
	ProcessedAt       *time.Time
}
