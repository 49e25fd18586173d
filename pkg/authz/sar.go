package authz

import (
	"context"
	"fmt"

	authorizationv1 "k8s.io/api/authorization/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
)

// SARAuthorizer asks the Kubernetes API server whether a caller may use a
// message log resource, so operators grant admin access with ordinary
// Roles on the messagelog.secgw.io group.
type SARAuthorizer struct {
	client    kubernetes.Interface
	namespace string
}

// NewSARAuthorizer returns an authorizer backed by client. A non-empty
// namespace scopes every review to it.
func NewSARAuthorizer(client kubernetes.Interface, namespace string) *SARAuthorizer {
	return &SARAuthorizer{client: client, namespace: namespace}
}

func (s *SARAuthorizer) Authorize(ctx context.Context, req AuthzRequest) (bool, error) {
	review, err := s.client.AuthorizationV1().SubjectAccessReviews().Create(ctx, s.review(req), metav1.CreateOptions{})
	if err != nil {
		return false, fmt.Errorf("subject access review for %s %s: %w", req.Verb, req.Resource, err)
	}
	st := review.Status
	if !st.Allowed && st.EvaluationError != "" {
		// Not a denial: the API server could not decide.
		return false, fmt.Errorf("subject access review for %s %s: %s", req.Verb, req.Resource, st.EvaluationError)
	}
	return st.Allowed, nil
}

func (s *SARAuthorizer) review(req AuthzRequest) *authorizationv1.SubjectAccessReview {
	return &authorizationv1.SubjectAccessReview{
		Spec: authorizationv1.SubjectAccessReviewSpec{
			User:   req.User,
			Groups: req.Groups,
			ResourceAttributes: &authorizationv1.ResourceAttributes{
				Namespace: s.namespace,
				Group:     APIGroup,
				Resource:  req.Resource,
				Verb:      req.Verb,
			},
		},
	}
}
