package webhook

var TierFromProduct = tierFromProduct
