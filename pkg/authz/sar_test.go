package authz

import (
	"context"
	"errors"
	"testing"

	authorizationv1 "k8s.io/api/authorization/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/client-go/kubernetes/fake"
	k8stesting "k8s.io/client-go/testing"
)

func TestSARAuthorizer(t *testing.T) {
	tests := []struct {
		name        string
		namespace   string
		sarAllowed  bool
		req         AuthzRequest
		wantAllowed bool
	}{
		{
			name:       "allowed in namespace",
			namespace:  "secgw",
			sarAllowed: true,
			req: AuthzRequest{
				User:     "alice",
				Groups:   []string{"operators"},
				Resource: ResourceArchives,
				Verb:     VerbExecute,
			},
			wantAllowed: true,
		},
		{
			name:       "denied in namespace",
			namespace:  "secgw",
			sarAllowed: false,
			req: AuthzRequest{
				User:     "bob",
				Resource: ResourceTimestamping,
				Verb:     VerbUpdate,
			},
			wantAllowed: false,
		},
		{
			name:       "allowed cluster scoped",
			sarAllowed: true,
			req: AuthzRequest{
				User:     "admin",
				Groups:   []string{"platform-ops"},
				Resource: ResourceRecords,
				Verb:     VerbList,
			},
			wantAllowed: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := fake.NewClientset()
			client.Fake.PrependReactor("create", "subjectaccessreviews",
				func(action k8stesting.Action) (bool, runtime.Object, error) {
					sar := action.(k8stesting.CreateAction).GetObject().(*authorizationv1.SubjectAccessReview)

					if sar.Spec.User != tt.req.User {
						t.Errorf("SAR User = %q, want %q", sar.Spec.User, tt.req.User)
					}
					attrs := sar.Spec.ResourceAttributes
					if attrs.Group != APIGroup {
						t.Errorf("SAR Group = %q, want %q", attrs.Group, APIGroup)
					}
					if attrs.Resource != tt.req.Resource {
						t.Errorf("SAR Resource = %q, want %q", attrs.Resource, tt.req.Resource)
					}
					if attrs.Verb != tt.req.Verb {
						t.Errorf("SAR Verb = %q, want %q", attrs.Verb, tt.req.Verb)
					}
					if attrs.Namespace != tt.namespace {
						t.Errorf("SAR Namespace = %q, want %q", attrs.Namespace, tt.namespace)
					}

					sar.Status.Allowed = tt.sarAllowed
					return true, sar, nil
				},
			)

			authorizer := NewSARAuthorizer(client, tt.namespace)
			allowed, err := authorizer.Authorize(context.Background(), tt.req)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if allowed != tt.wantAllowed {
				t.Errorf("allowed = %v, want %v", allowed, tt.wantAllowed)
			}
		})
	}
}

func TestSARAuthorizer_APIError(t *testing.T) {
	client := fake.NewClientset()
	client.Fake.PrependReactor("create", "subjectaccessreviews",
		func(k8stesting.Action) (bool, runtime.Object, error) {
			return true, nil, errors.New("apiserver unavailable")
		},
	)

	allowed, err := NewSARAuthorizer(client, "").Authorize(context.Background(), AuthzRequest{User: "alice"})
	if err == nil {
		t.Fatal("expected error")
	}
	if allowed {
		t.Error("expected allowed=false on error")
	}
}

func TestSARAuthorizer_EvaluationError(t *testing.T) {
	tests := []struct {
		name    string
		status  authorizationv1.SubjectAccessReviewStatus
		allowed bool
		wantErr bool
	}{
		{"undecided", authorizationv1.SubjectAccessReviewStatus{EvaluationError: "webhook timeout"}, false, true},
		{"allowed despite partial failure", authorizationv1.SubjectAccessReviewStatus{Allowed: true, EvaluationError: "one authorizer failed"}, true, false},
		{"plain denial", authorizationv1.SubjectAccessReviewStatus{Reason: "no binding"}, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := fake.NewClientset()
			client.Fake.PrependReactor("create", "subjectaccessreviews",
				func(action k8stesting.Action) (bool, runtime.Object, error) {
					sar := action.(k8stesting.CreateAction).GetObject().(*authorizationv1.SubjectAccessReview)
					sar.Status = tt.status
					return true, sar, nil
				},
			)

			allowed, err := NewSARAuthorizer(client, "secgw").Authorize(context.Background(),
				AuthzRequest{User: "carol", Resource: ResourceRecords, Verb: VerbGet})
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if allowed != tt.allowed {
				t.Errorf("allowed = %v, want %v", allowed, tt.allowed)
			}
		})
	}
}
