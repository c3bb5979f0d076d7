package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func fixedContract() *Contract {
	return &Contract{
		ID:            "ctr_1",
		CreatorID:     "client",
		ContributorID: "dev",
		Name:          "Landing page",
		Type:          ContractTypeFixed,
		Currency:      "USD",
		Budget:        dec("300"),
		Status:        ContractStatusDraft,
		Milestones: []Milestone{
			{Name: "Design", Budget: dec("100"), Status: MilestoneStatusInProgress},
			{Name: "Build", Budget: dec("200"), Status: MilestoneStatusInProgress},
		},
	}
}

func TestValidateSplitMilestones(t *testing.T) {
	c := fixedContract()
	c.SplitMilestones = true
	if err := c.Validate(); err != nil {
		t.Fatalf("expected valid contract, got %v", err)
	}

	c.Milestones[1].Budget = dec("199.99")
	err := c.Validate()
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error for mismatched split, got %v", err)
	}

	c.SplitMilestones = false
	if err := c.Validate(); err != nil {
		t.Fatalf("unsplit contract should not enforce the sum, got %v", err)
	}
}

func TestValidateShape(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Contract)
		field  string
	}{
		{"missing name", func(c *Contract) { c.Name = " " }, "name"},
		{"bad currency", func(c *Contract) { c.Currency = "US" }, "currency"},
		{"self contract", func(c *Contract) { c.ContributorID = c.CreatorID }, "contributor_id"},
		{"zero budget", func(c *Contract) { c.Budget = decimal.Zero }, "budget"},
		{"fee too high", func(c *Contract) { f := dec("100"); c.PlatformFee = &f }, "platform_fee"},
		{"hourly with milestones", func(c *Contract) { c.Type = ContractTypeHourly; c.HourlyRate = dec("25") }, "milestones"},
		{"unknown type", func(c *Contract) { c.Type = "barter" }, "type"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := fixedContract()
			tc.mutate(c)
			var verr *ValidationError
			if err := c.Validate(); !errors.As(err, &verr) || verr.Field != tc.field {
				t.Fatalf("expected validation error on %q, got %v", tc.field, err)
			}
		})
	}
}

func TestContractTransitionTable(t *testing.T) {
	creator := Identity{ExternalID: "client", Role: RoleUser}
	dev := Identity{ExternalID: "dev", Role: RoleUser}
	stranger := Identity{ExternalID: "other", Role: RoleUser}

	cases := []struct {
		from    ContractStatus
		to      ContractStatus
		actor   Identity
		wantErr error
	}{
		{ContractStatusDraft, ContractStatusPending, creator, nil},
		{ContractStatusDraft, ContractStatusPending, dev, ErrForbidden},
		{ContractStatusDraft, ContractStatusActive, creator, ErrInvalidTransition},
		{ContractStatusPending, ContractStatusActive, dev, nil},
		{ContractStatusPending, ContractStatusActive, creator, ErrForbidden},
		{ContractStatusPending, ContractStatusRejected, dev, nil},
		{ContractStatusPending, ContractStatusArchived, creator, nil},
		{ContractStatusActive, ContractStatusDisputed, dev, nil},
		{ContractStatusActive, ContractStatusDisputed, stranger, ErrForbidden},
		{ContractStatusActive, ContractStatusCompleted, creator, nil},
		{ContractStatusActive, ContractStatusArchived, dev, ErrForbidden},
		{ContractStatusDisputed, ContractStatusArchived, creator, nil},
		{ContractStatusDisputed, ContractStatusActive, creator, ErrInvalidTransition},
		{ContractStatusCompleted, ContractStatusArchived, creator, ErrInvalidTransition},
		{ContractStatusRejected, ContractStatusPending, creator, ErrInvalidTransition},
	}
	for _, tc := range cases {
		c := fixedContract()
		c.Status = tc.from
		err := c.AuthorizeTransition(StatusChange{To: tc.to}, tc.actor)
		if tc.wantErr == nil && err != nil {
			t.Fatalf("%s -> %s by %s: unexpected error %v", tc.from, tc.to, tc.actor.ExternalID, err)
		}
		if tc.wantErr != nil && !errors.Is(err, tc.wantErr) {
			t.Fatalf("%s -> %s by %s: expected %v, got %v", tc.from, tc.to, tc.actor.ExternalID, tc.wantErr, err)
		}
	}
}

func TestTransitionErrorReportsStatuses(t *testing.T) {
	c := fixedContract()
	err := c.AuthorizeTransition(StatusChange{To: ContractStatusCompleted}, Identity{ExternalID: "client"})
	var terr *TransitionError
	if !errors.As(err, &terr) {
		t.Fatalf("expected TransitionError, got %v", err)
	}
	if terr.From != "draft" || terr.To != "completed" {
		t.Fatalf("unexpected transition error fields: %+v", terr)
	}
}

func TestAcceptOpenInvitationBindsContributor(t *testing.T) {
	c := fixedContract()
	c.ContributorID = ""
	c.Status = ContractStatusPending
	c.InvitationToken = "tok-123"
	dev := Identity{ExternalID: "dev-2"}

	if err := c.AuthorizeTransition(StatusChange{To: ContractStatusActive, InvitationToken: "wrong"}, dev); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected forbidden with wrong token, got %v", err)
	}
	change := StatusChange{To: ContractStatusActive, InvitationToken: "tok-123"}
	if err := c.AuthorizeTransition(change, dev); err != nil {
		t.Fatalf("accept with token: %v", err)
	}
	c.ApplyStatus(change, dev, time.Now())
	if c.ContributorID != "dev-2" || c.Status != ContractStatusActive {
		t.Fatalf("contributor not bound: %+v", c)
	}
}

func TestChangeMilestone(t *testing.T) {
	c := fixedContract()
	c.Status = ContractStatusActive
	creator := Identity{ExternalID: "client"}
	dev := Identity{ExternalID: "dev"}
	now := time.Now()

	if _, err := c.ChangeMilestone(0, MilestoneChange{To: MilestoneStatusSubmitted}, dev, now); !errors.Is(err, ErrValidation) {
		t.Fatalf("submit without details should fail validation, got %v", err)
	}
	if _, err := c.ChangeMilestone(0, MilestoneChange{To: MilestoneStatusSubmitted, SubmissionDetails: "done"}, creator, now); !errors.Is(err, ErrForbidden) {
		t.Fatalf("creator submitting should be forbidden, got %v", err)
	}
	if _, err := c.ChangeMilestone(0, MilestoneChange{To: MilestoneStatusSubmitted, SubmissionDetails: "done"}, dev, now); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := c.ChangeMilestone(0, MilestoneChange{To: MilestoneStatusRejected}, creator, now); !errors.Is(err, ErrValidation) {
		t.Fatalf("reject without feedback should fail validation, got %v", err)
	}
	if _, err := c.ChangeMilestone(0, MilestoneChange{To: MilestoneStatusRejected, Feedback: "fix colors"}, creator, now); err != nil {
		t.Fatalf("reject: %v", err)
	}
	if _, err := c.ChangeMilestone(0, MilestoneChange{To: MilestoneStatusInProgress}, dev, now); err != nil {
		t.Fatalf("resubmission: %v", err)
	}
	from, err := c.ChangeMilestone(0, MilestoneChange{To: MilestoneStatusApproved}, creator, now)
	if !errors.Is(err, ErrInvalidTransition) || from != MilestoneStatusInProgress {
		t.Fatalf("approve from in-progress should be invalid, got %v (from %s)", err, from)
	}
	if _, err := c.ChangeMilestone(5, MilestoneChange{To: MilestoneStatusSubmitted, SubmissionDetails: "x"}, dev, now); !errors.Is(err, ErrValidation) {
		t.Fatalf("out of range index should fail validation, got %v", err)
	}

	c.Status = ContractStatusDisputed
	if _, err := c.ChangeMilestone(1, MilestoneChange{To: MilestoneStatusSubmitted, SubmissionDetails: "x"}, dev, now); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("milestones on a disputed contract should not move, got %v", err)
	}
}

func TestMilestonePayout(t *testing.T) {
	c := fixedContract()
	gross, fee, net, err := c.MilestonePayout(0, dec("10"))
	if err != nil {
		t.Fatalf("payout: %v", err)
	}
	if !gross.Equal(dec("100")) || !fee.Equal(dec("10")) || !net.Equal(dec("90")) {
		t.Fatalf("unexpected split gross=%s fee=%s net=%s", gross, fee, net)
	}

	override := dec("2.5")
	c.PlatformFee = &override
	c.Milestones[1].Budget = dec("33.33")
	_, fee, net, _ = c.MilestonePayout(1, dec("10"))
	if !fee.Equal(dec("0.83")) || !net.Equal(dec("32.5")) {
		t.Fatalf("unexpected rounded split fee=%s net=%s", fee, net)
	}
}

func TestCloneIsDeep(t *testing.T) {
	c := fixedContract()
	cp := c.Clone()
	cp.Milestones[0].Status = MilestoneStatusApproved
	if c.Milestones[0].Status != MilestoneStatusInProgress {
		t.Fatal("clone shares milestone storage with the original")
	}
}

func TestWithdrawalTransitions(t *testing.T) {
	ok := [][2]WithdrawalStatus{
		{WithdrawalStatusPending, WithdrawalStatusProcessing},
		{WithdrawalStatusPending, WithdrawalStatusRejected},
		{WithdrawalStatusProcessing, WithdrawalStatusCompleted},
		{WithdrawalStatusProcessing, WithdrawalStatusRejected},
	}
	for _, tr := range ok {
		if err := CheckWithdrawalTransition(tr[0], tr[1]); err != nil {
			t.Fatalf("%s -> %s: %v", tr[0], tr[1], err)
		}
	}
	if err := CheckWithdrawalTransition(WithdrawalStatusPending, WithdrawalStatusCompleted); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("pending -> completed should be invalid, got %v", err)
	}
	if err := CheckWithdrawalTransition(WithdrawalStatusCompleted, WithdrawalStatusRejected); !errors.Is(err, ErrAlreadyProcessed) {
		t.Fatalf("completed withdrawal should report already processed, got %v", err)
	}
}

func TestCurrentAttempt(t *testing.T) {
	attempts := []Payment{
		{ID: "p1", Attempt: 1, Status: PaymentStatusFailed},
		{ID: "p2", Attempt: 2, Status: PaymentStatusPending},
	}
	if got := CurrentAttempt(attempts); got.ID != "p1" {
		t.Fatalf("expected latest non-pending attempt p1, got %s", got.ID)
	}
	if CurrentAttempt(nil) != nil {
		t.Fatal("expected nil for no attempts")
	}
}
