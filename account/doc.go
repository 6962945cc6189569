// Package account is the REST client for the toy store's account service. It
// implements toystory.AccountService.
//
// Requests go through an otelhttp-instrumented transport and a circuit
// breaker. Only transport failures and 5xx answers count against the breaker;
// a rejected password is a normal answer.
//
// Response DTOs are normalized here, once: absent optional fields become
// their zero values before a profile leaves the package.
package account
