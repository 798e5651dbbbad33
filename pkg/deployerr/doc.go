// Package deployerr implements the hierarchical error-code taxonomy and
// error-type tagging the deployment pipeline reports through status
// details.
package deployerr
