package deployerr

import (
	"fmt"
	"sort"

	"github.com/cuemby/dagent/pkg/domain"
)

// BuildStatusDetails walks the cause chain of err from outer to inner,
// producing an ordered error stack (may contain duplicate codes across
// links) and a deduplicated set of error types. It is a pure function of
// the chain: calling it twice on the same chain yields equal results.
//
// The outermost code is always CodeDeploymentFailure.
// Attached error contexts from the root cause are appended last.
func BuildStatusDetails(err error) domain.StatusDetails {
	if err == nil {
		return domain.StatusDetails{}
	}

	stack := []string{string(CodeDeploymentFailure)}
	typeSet := map[Type]bool{}
	var rootContext map[string]string
	var outermostMsg, rootMsg string

	cur := err
	first := true
	for cur != nil {
		de, ok := cur.(*DeploymentError)
		if !ok {
			// Non-tagged error: treat its message as an opaque leaf and stop.
			if first {
				outermostMsg = cur.Error()
			}
			rootMsg = cur.Error()
			break
		}

		stack = append(stack, string(de.Code))
		for _, t := range de.Types {
			typeSet[t] = true
		}
		if first {
			outermostMsg = de.Message
			first = false
		}
		rootMsg = de.Message
		rootContext = de.Context

		if de.Cause == nil {
			break
		}
		cur = de.Cause
	}

	types := make([]string, 0, len(typeSet))
	for t := range typeSet {
		types = append(types, string(t))
	}
	sort.Strings(types)

	details := domain.StatusDetails{
		FailureCause: formatFailureCause(outermostMsg, rootMsg),
		ErrorStack:   stack,
		ErrorTypes:   types,
	}

	contextKeys := make([]string, 0, len(rootContext))
	for k := range rootContext {
		contextKeys = append(contextKeys, k)
	}
	sort.Strings(contextKeys)
	for _, k := range contextKeys {
		details.ErrorStack = append(details.ErrorStack, fmt.Sprintf("%s=%s", k, rootContext[k]))
	}

	return details
}

func formatFailureCause(outermost, root string) string {
	if outermost == "" {
		return root
	}
	if outermost == root {
		return outermost
	}
	return fmt.Sprintf("%s: %s", outermost, root)
}
