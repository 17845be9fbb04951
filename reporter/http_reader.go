// Reader is a testing facility to read the output of a http reporter.

package reporter

import (
	"io"
	"net/http"
	"strconv"
)

type HttpReader struct {
	serverIP   string // listen ip
	serverPort string // listen port
}

func NewHttpReader(serverIP string, serverPort string) *HttpReader {
	return &HttpReader{
		serverIP:   serverIP,
		serverPort: serverPort,
	}
}

func (hr *HttpReader) get(route string) (string, error) {
	url := "http://" + hr.serverIP + ":" + hr.serverPort + route

	resp, err := http.Get(url)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	// Read the response body
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}

	// Convert the body to a string
	return string(body), nil
}

func (hr *HttpReader) GetHello() (string, error) {
	return hr.get(ROUTE_HELLO)
}

func (hr *HttpReader) GetHooks(tag string) (string, error) {
	return hr.get(ROUTE_HOOKS + "?tag=" + tag)
}

func (hr *HttpReader) GetDepositStatus(id string) (string, error) {
	return hr.get(ROUTE_DEPOSIT + "?id=" + id)
}

func (hr *HttpReader) GetEscrowLedger() (string, error) {
	return hr.get(ROUTE_ESCROW_LEDGER)
}

func (hr *HttpReader) GetOracle() (string, error) {
	return hr.get(ROUTE_ORACLE)
}

func (hr *HttpReader) GetNonceStatus(owner string, nonce uint64) (string, error) {
	return hr.get(ROUTE_NONCE + "?owner=" + owner + "&nonce=" + strconv.FormatUint(nonce, 10))
}
