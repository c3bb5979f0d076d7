package usecase

import (
	"context"
	"errors"
	"testing"

	"contract-service/internal/domain"
)

func TestCreateRejectsForeignCurrency(t *testing.T) {
	h := newHarness(t)
	_, err := h.contracts.Create(context.Background(), ContractInput{
		Name:     "Logo",
		Type:     domain.ContractTypeFixed,
		Currency: "EUR",
		Budget:   dec("100"),
	}, client)

	var verr *domain.ValidationError
	if !errors.As(err, &verr) || verr.Field != "currency" {
		t.Fatalf("expected currency validation error, got %v", err)
	}
}

func TestCreateDefaultsCurrencyAndStartsAsDraft(t *testing.T) {
	h := newHarness(t)
	c, err := h.contracts.Create(context.Background(), ContractInput{
		Name:   "Logo",
		Type:   domain.ContractTypeFixed,
		Budget: dec("100"),
	}, client)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if c.Status != domain.ContractStatusDraft || c.Currency != "USD" || c.CreatorID != client.ExternalID {
		t.Fatalf("unexpected contract: status=%s currency=%s creator=%s", c.Status, c.Currency, c.CreatorID)
	}
}

func TestOpenInvitationFlow(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	c, err := h.contracts.Create(ctx, ContractInput{
		Name:       "Audit",
		Type:       domain.ContractTypeFixed,
		Budget:     dec("300"),
		Milestones: []MilestoneInput{{Name: "report", Budget: dec("300")}},
	}, client)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	sent, err := h.contracts.ChangeStatus(ctx, c.ID, domain.StatusChange{To: domain.ContractStatusPending}, client)
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if sent.InvitationToken == "" {
		t.Fatal("sending an open contract should mint an invitation token")
	}

	view, err := h.contracts.GetByInvitation(ctx, sent.InvitationToken)
	if err != nil {
		t.Fatalf("invitation lookup: %v", err)
	}
	if view.ContractID != c.ID || len(view.Milestones) != 1 {
		t.Fatalf("unexpected invitation view: %+v", view)
	}

	if _, err := h.contracts.ChangeStatus(ctx, c.ID, domain.StatusChange{To: domain.ContractStatusActive, InvitationToken: "wrong"}, dev); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("bad token should be forbidden, got %v", err)
	}
	accepted, err := h.contracts.ChangeStatus(ctx, c.ID, domain.StatusChange{To: domain.ContractStatusActive, InvitationToken: sent.InvitationToken}, dev)
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if accepted.ContributorID != dev.ExternalID || accepted.Status != domain.ContractStatusActive {
		t.Fatalf("accept should bind the contributor, got contributor=%q status=%s", accepted.ContributorID, accepted.Status)
	}

	if _, err := h.contracts.GetByInvitation(ctx, sent.InvitationToken); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("answered invitation should no longer resolve, got %v", err)
	}
}

func TestIllegalTransitionReportsStatuses(t *testing.T) {
	h := newHarness(t)
	c, err := h.contracts.Create(context.Background(), ContractInput{Name: "x", Type: domain.ContractTypeFixed, Budget: dec("10")}, client)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	_, err = h.contracts.ChangeStatus(context.Background(), c.ID, domain.StatusChange{To: domain.ContractStatusCompleted}, client)
	var terr *domain.TransitionError
	if !errors.As(err, &terr) {
		t.Fatalf("expected TransitionError, got %v", err)
	}
	if terr.From != "draft" || terr.To != "completed" {
		t.Fatalf("unexpected statuses in error: %+v", terr)
	}
}

func TestManualCompletionNeedsEveryMilestonePaid(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	c := h.activeContract(t, "100", "200")

	_, err := h.contracts.ChangeStatus(ctx, c.ID, domain.StatusChange{To: domain.ContractStatusCompleted}, client)
	if !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("completion with unpaid milestones should be refused, got %v", err)
	}
}

func TestOnlyDraftsCanBeEditedOrDeleted(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	c := h.activeContract(t, "100")

	if err := h.contracts.Delete(ctx, c.ID, client); !errors.Is(err, domain.ErrNotDraft) {
		t.Fatalf("deleting an active contract should fail with ErrNotDraft, got %v", err)
	}
	if _, err := h.contracts.Update(ctx, c.ID, ContractInput{Name: "y", Type: domain.ContractTypeFixed, Budget: dec("1")}, dev); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("contributor edit should be forbidden, got %v", err)
	}

	draft, err := h.contracts.Create(ctx, ContractInput{Name: "d", Type: domain.ContractTypeFixed, Budget: dec("5")}, client)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := h.contracts.Delete(ctx, draft.ID, client); err != nil {
		t.Fatalf("delete draft: %v", err)
	}
	if _, err := h.contracts.Get(ctx, draft.ID, client); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("deleted draft should be gone, got %v", err)
	}
}

func TestGetIsLimitedToParties(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	c := h.activeContract(t, "100")

	stranger := domain.Identity{ExternalID: "someone", Role: domain.RoleUser}
	if _, err := h.contracts.Get(ctx, c.ID, stranger); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("stranger should be forbidden, got %v", err)
	}
	if _, err := h.contracts.Get(ctx, c.ID, admin); err != nil {
		t.Fatalf("admin should read any contract: %v", err)
	}
}

func TestListFiltersByRole(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.activeContract(t, "100")
	if _, err := h.contracts.Create(ctx, ContractInput{Name: "mine", Type: domain.ContractTypeFixed, Budget: dec("5")}, dev); err != nil {
		t.Fatalf("create: %v", err)
	}

	asContributor, err := h.contracts.List(ctx, dev, "contributor", nil, 0, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(asContributor) != 1 || asContributor[0].ContributorID != dev.ExternalID {
		t.Fatalf("expected one contract as contributor, got %d", len(asContributor))
	}
	all, err := h.contracts.List(ctx, dev, "", nil, 0, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected two contracts in total, got %d", len(all))
	}
	if _, err := h.contracts.List(ctx, dev, "boss", nil, 0, 0); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("unknown role should be a validation error, got %v", err)
	}
}
