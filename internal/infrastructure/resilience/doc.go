/*
Package resilience guards calls to unreliable dependencies.

A Breaker counts failures of the calls it runs. Once ReadyToTrip says so it
opens and rejects calls with ErrCircuitOpen until Timeout has passed; then
it lets MaxRequests trial calls through (half-open) and closes again if
they all succeed.

	Closed --[trip]--> Open --[timeout]--> Half-Open --[successes]--> Closed
	                    ^                      |
	                    +------[failure]-------+

Settings.IsSuccessful decides which errors count: the module fetcher treats
a 404 from the CDN as a success so that a typo in an import does not cut the
sandbox off from a healthy host.

Group keeps one breaker per host:

	hosts := resilience.NewGroup(resilience.Settings{Timeout: 30 * time.Second})
	body, err := resilience.Do(hosts.Get(u.Host), func() ([]byte, error) {
		return download(ctx, u)
	})
*/
package resilience
