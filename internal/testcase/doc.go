// Package testcase defines the contract every DUT test case implements,
// the callback surface test cases report through, and the registry that
// maps test case names to constructors.
package testcase
