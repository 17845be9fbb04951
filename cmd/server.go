// Server = share vault core + escrow + oracle + signed withdrawals + http reporter.
// All components are configured via environment variables (strings!).

package cmd

import (
	"database/sql"
	"math/big"
	"os"
	"os/signal"
	"syscall"
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"
	_ "github.com/mattn/go-sqlite3"
	logger "github.com/sirupsen/logrus"

	"github.com/sharebridge/vault-go/agreement"
	"github.com/sharebridge/vault-go/escrow"
	"github.com/sharebridge/vault-go/hookpipe"
	"github.com/sharebridge/vault-go/oracle"
	"github.com/sharebridge/vault-go/reporter"
	"github.com/sharebridge/vault-go/vault"
	"github.com/sharebridge/vault-go/withdrawauth"
)

// Default params for server.
// More often we don't recommend users to tweak those.
// So we list them here.
const (
	// withdrawal typed-data domain
	domainName    = "ShareVault"
	domainVersion = "1"
)

// Keep the configuration's fields as "text" as possible.
// Its easier to load it from env vars or a config file.
type VaultServerConfig struct {
	// state side
	DbFilePath string // db file path

	// identities
	VaultAddress  string // the vault's custody identity
	AssetAddress  string // the underlying asset identity
	EscrowAddress string // escrow custody identity

	// role holders
	OwnerAddress    string // may change oracle policy
	OperatorAddress string // may resolve deposits and submit withdrawals
	UpdaterAddress  string // may push oracle prices

	// escrow side
	PendingTTLSeconds int64 // deposit expiration window

	// oracle side
	InitialPrice    string // decimal string
	MaxDeviationBps uint64
	PeriodSeconds   uint64

	// withdrawal side
	ChainId int64 // domain binding for signatures

	// Http side
	HttpIp   string // eg. 0.0.0.0
	HttpPort string // eg. 8080
}

// VaultServer holds the objects that consists of the vault server.
type VaultServer struct {
	MyRelay    *agreement.SimAssetRelay
	MyAuth     *agreement.SimAuthOracle
	MyPipeline *hookpipe.Pipeline
	MyVault    *vault.ManagedVault
	MyEscrowDb *escrow.EscrowDB
	MyEscrow   *escrow.GatedDepositVault
	MyOracleDb *oracle.OracleDB
	MyOracle   *oracle.Oracle
	MyNonceDb  *withdrawauth.NonceDB
	MyExecutor *withdrawauth.Executor
}

// NewVaultServer creates a new vault server.
func NewVaultServer(vsc *VaultServerConfig) (*VaultServer, error) {
	vaultAddr := ethcommon.HexToAddress(vsc.VaultAddress)
	assetAddr := ethcommon.HexToAddress(vsc.AssetAddress)
	escrowAddr := ethcommon.HexToAddress(vsc.EscrowAddress)

	// 1) Role holders.
	myAuth := agreement.NewSimAuthOracle()
	myAuth.Grant(ethcommon.HexToAddress(vsc.OwnerAddress), agreement.RoleOwner)
	myAuth.Grant(ethcommon.HexToAddress(vsc.OperatorAddress), agreement.RoleOperator)
	myAuth.Grant(ethcommon.HexToAddress(vsc.UpdaterAddress), agreement.RoleUpdater)

	// 2) In-process asset ledger and component registry.
	myRelay := agreement.NewSimAssetRelay()
	myRegistry := agreement.NewSimRegistry()
	myRegistry.List(escrowAddr)

	// 3) Hook pipeline shared by every vault entry point.
	myPipeline := hookpipe.NewPipeline(&agreement.LogSink{})

	// 4) The managed share vault.
	myVault, err := vault.NewManaged(&vault.Config{
		VaultAddress: vaultAddr,
		Asset:        assetAddr,
		Relay:        myRelay,
		Valuation:    &agreement.RelayValuation{Relay: myRelay, Asset: assetAddr, Custody: vaultAddr},
		Registry:     myRegistry,
	}, myPipeline, myAuth)
	if err != nil {
		logger.Fatalf("failed to create vault: %v", err)
		return nil, err
	}

	// Create sql db shared by every store.
	sqldb, err := sql.Open("sqlite3", vsc.DbFilePath)
	if err != nil {
		logger.Fatalf("failed to open db file: %v", err)
		return nil, err
	}

	// 5) Escrow over the vault.
	myEscrowDb, err := escrow.NewEscrowDB(sqldb)
	if err != nil {
		logger.Fatalf("failed to create escrow db: %v", err)
		return nil, err
	}
	myEscrow, err := escrow.New(&escrow.Config{
		EscrowAddress:     escrowAddr,
		PendingTTLSeconds: vsc.PendingTTLSeconds,
	}, myEscrowDb, myVault.ShareVault, myRelay, myAuth, nil)
	if err != nil {
		logger.Fatalf("failed to create escrow: %v", err)
		return nil, err
	}

	// 6) Price transition oracle.
	initialPrice, ok := new(big.Int).SetString(vsc.InitialPrice, 10)
	if !ok {
		logger.Fatalf("invalid initial price: %s", vsc.InitialPrice)
		return nil, oracle.ErrCfgZeroPrice
	}
	myOracleDb, err := oracle.NewOracleDB(sqldb)
	if err != nil {
		logger.Fatalf("failed to create oracle db: %v", err)
		return nil, err
	}
	myOracle, err := oracle.New(&oracle.Config{
		InitialPrice:    initialPrice,
		MaxDeviationBps: vsc.MaxDeviationBps,
		PeriodSeconds:   vsc.PeriodSeconds,
	}, myOracleDb, myAuth, nil)
	if err != nil {
		logger.Fatalf("failed to create oracle: %v", err)
		return nil, err
	}

	// 7) Signed withdrawal executor.
	myNonceDb, err := withdrawauth.NewNonceDB(sqldb)
	if err != nil {
		logger.Fatalf("failed to create nonce db: %v", err)
		return nil, err
	}
	myExecutor := withdrawauth.NewExecutor(&withdrawauth.Domain{
		Name:     domainName,
		Version:  domainVersion,
		ChainID:  big.NewInt(vsc.ChainId),
		Contract: vaultAddr,
	}, myNonceDb, myVault, myAuth, nil)

	// *** Setup a http server to report status ***
	http_server := reporter.NewHttpReporter(
		vsc.HttpIp,
		vsc.HttpPort,
		myPipeline,
		myEscrow,
		myOracle,
		myExecutor,
	)
	// Turn on the http server
	go http_server.Run()

	// Give it some time to start the http server
	time.Sleep(1 * time.Second)
	// *** End the setup of http server ***

	return &VaultServer{
		MyRelay:    myRelay,
		MyAuth:     myAuth,
		MyPipeline: myPipeline,
		MyVault:    myVault,
		MyEscrowDb: myEscrowDb,
		MyEscrow:   myEscrow,
		MyOracleDb: myOracleDb,
		MyOracle:   myOracle,
		MyNonceDb:  myNonceDb,
		MyExecutor: myExecutor,
	}, nil
}

// Create, then start the vault server and wait.
// Press Ctrl-C to kill the server.
func StartVaultServerAndWait(vsc *VaultServerConfig) {
	server, err := NewVaultServer(vsc)
	if err != nil {
		logger.Fatalf("failed to create vault server: %v", err)
		return
	}

	// Set up a signal channel to listen for Ctrl‑C (SIGINT) or SIGTERM
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	<-sigCh
	logger.Info("shutting down vault server")

	server.MyEscrowDb.Close()
	server.MyOracleDb.Close()
	server.MyNonceDb.Close()
}
