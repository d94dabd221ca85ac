// Package types contains the generic firewall types and interfaces used
// throughout the application. These are defined separately from the packages
// that implement them so that consumers of firewall functionality don't need
// to depend on a specific implementation.
package types
